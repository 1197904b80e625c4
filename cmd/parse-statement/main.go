package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/securepath/internal/config"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/pipeline"
)

// parse-statement previews the rows an upload would produce without touching
// the database. PDFs go through the statement model.
func main() {
	log := logger.New()

	configPath := flag.String("config", "", "Path to YAML config (or set SECUREPATH_CONFIG)")
	filePath := flag.String("file", "", "Path to a local CSV, gzip or PDF statement (required)")
	model := flag.String("model", "", "Statement model (defaults to statements.model)")
	flag.Parse()

	if *filePath == "" {
		log.Fatal().Msg("Error: --file is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *model == "" {
		*model = cfg.Statements.Model
	}

	payload, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Str("file", *filePath).Msg("Failed to read file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	limits := cfg.IngestLimits()
	state := &pipeline.PipelineState{Payload: payload, FileName: filepath.Base(*filePath)}
	if err := (&pipeline.DecompressStep{MaxBytes: limits.MaxPayloadBytes}).Execute(ctx, state); err != nil {
		log.Fatal().Err(err).Msg("Failed to decompress")
	}

	extract := &pipeline.ExtractRowsStep{Limits: limits}
	if pipeline.DetectFormat("", state.FileName, state.Payload) == pipeline.FormatPDF {
		parser, err := pipeline.NewGeminiParser(ctx, *model)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create statement parser")
		}
		extract.Parser = parser
	}

	start := time.Now()
	if err := extract.Execute(ctx, state); err != nil {
		log.Fatal().Err(err).Msg("Failed to extract rows")
	}
	log.Info().
		Str("format", string(state.Format)).
		Int("rows", len(state.Rows)).
		Dur("took", time.Since(start)).
		Msg("Extracted rows")

	out, err := json.MarshalIndent(state.Rows, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode rows")
	}
	fmt.Println(string(out))
}
