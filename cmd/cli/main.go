package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/securepath/internal/app"
	"github.com/dvloznov/securepath/internal/auth"
	"github.com/dvloznov/securepath/internal/config"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/jobs"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/pipeline"
	"github.com/dvloznov/securepath/internal/uploads"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		runIngest(log)
	case "upload":
		runUpload(log)
	case "triage":
		runTriage(log)
	case "score":
		runScore(log)
	case "cleanse":
		runCleanse(log)
	case "export":
		runExport(log)
	case "warehouse":
		runWarehouse(log)
	case "job":
		runJob(log)
	case "token":
		runToken(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("SecurePath CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  ingest     Ingest a local CSV file for a principal")
	fmt.Println("  upload     Archive a file and queue it for background ingestion")
	fmt.Println("  triage     Run batch triage for a principal or globally")
	fmt.Println("  score      Score transactions with rules and the anomaly model")
	fmt.Println("  cleanse    Remove duplicates and normalize a principal's records")
	fmt.Println("  export     Write a principal's transaction report as CSV")
	fmt.Println("  warehouse  Export scored transactions and audit entries to BigQuery")
	fmt.Println("  job        Show a background job")
	fmt.Println("  token      Issue an access token for a principal")
	fmt.Println("  help       Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// command holds what every subcommand shares.
type command struct {
	fs         *flag.FlagSet
	configPath *string
}

func newCommand(name string) *command {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return &command{
		fs:         fs,
		configPath: fs.String("config", "", "Path to YAML config (or set SECUREPATH_CONFIG)"),
	}
}

func (c *command) parse() {
	_ = c.fs.Parse(os.Args[2:])
}

func (c *command) config(log zerolog.Logger) *config.Config {
	cfg, err := config.Load(*c.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	return cfg
}

// build assembles the services. The caller closes the returned App.
func (c *command) build(ctx context.Context, log zerolog.Logger) *app.App {
	a, err := app.Build(ctx, c.config(log))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	return a
}

func commandContext(log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	return logger.WithContext(ctx, log), cancel
}

func requirePrincipal(log zerolog.Logger, p string) domain.Principal {
	if p == "" {
		log.Fatal().Msg("Error: --principal is required")
	}
	return domain.Principal{ID: p, UserAgent: "securepath-cli"}
}

func runIngest(log zerolog.Logger) {
	cmd := newCommand("ingest")
	filePath := cmd.fs.String("file", "", "Path to local CSV file")
	principal := cmd.fs.String("principal", "", "Principal the records belong to")
	cmd.parse()

	if *filePath == "" {
		log.Fatal().Msg("Usage: cli ingest -principal ID -file PATH")
	}
	p := requirePrincipal(log, *principal)

	ctx, cancel := commandContext(log)
	defer cancel()
	a := cmd.build(ctx, log)
	defer a.Close()

	f, err := os.Open(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open file")
	}
	defer f.Close()

	log.Info().Str("file", *filePath).Str("principal", p.ID).Msg("Starting ingestion")

	res, err := a.Ingest.IngestCSV(ctx, f, p, filepath.Base(*filePath))
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	fmt.Printf("File processed. %d new records added! (%d read, %d skipped, %d duplicates, batch %s)\n",
		res.InsertedCount, res.ReadCount, res.SkippedCount, res.DuplicateCount, res.BatchID)
	for _, w := range res.Warnings {
		fmt.Printf("  row %d %s=%q: %s\n", w.Row, w.Field, w.Value, w.Message)
	}
}

func runUpload(log zerolog.Logger) {
	cmd := newCommand("upload")
	filePath := cmd.fs.String("file", "", "Path to local CSV, gzip or PDF file")
	principal := cmd.fs.String("principal", "", "Principal the records belong to")
	cmd.parse()

	if *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -principal ID -file PATH")
	}
	p := requirePrincipal(log, *principal)

	ctx, cancel := commandContext(log)
	defer cancel()
	a := cmd.build(ctx, log)
	defer a.Close()

	f, err := os.Open(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open file")
	}
	defer f.Close()

	name := filepath.Base(*filePath)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	object := uploads.ObjectName(a.Config.GCS.Prefix, p.ID, uuid.New().String(), name, time.Now())

	uri, err := a.Archive.Put(ctx, object, f, contentType)
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}
	log.Info().Str("object_uri", uri).Msg("Archived upload")

	// A memory queue dies with this process, so run the pipeline inline.
	if a.Config.Jobs.Backend == "memory" {
		state := &pipeline.PipelineState{Principal: p, ObjectURI: uri, FileName: name, ContentType: contentType}
		if err := a.Pipeline.Execute(ctx, state); err != nil {
			log.Fatal().Err(err).Msg("Ingestion failed")
		}
		fmt.Printf("Processed %s: %d new records added.\n", uri, state.Result.InsertedCount)
		return
	}

	job := &jobs.Job{
		Type:        jobs.JobTypeIngestUpload,
		Principal:   p.ID,
		ObjectURI:   uri,
		FileName:    name,
		ContentType: contentType,
	}
	if err := a.Queue.Publish(ctx, job); err != nil {
		log.Fatal().Err(err).Msg("Failed to queue ingestion")
	}
	fmt.Printf("Queued job %s for %s\n", job.JobID, uri)
}

func runTriage(log zerolog.Logger) {
	cmd := newCommand("triage")
	principal := cmd.fs.String("principal", "", "Principal whose pending transactions are triaged")
	global := cmd.fs.Bool("global", false, "Triage pending transactions of every principal")
	cmd.parse()

	var (
		p     domain.Principal
		scope domain.Scope
	)
	switch {
	case *global:
		p = domain.Principal{ID: "cli", UserAgent: "securepath-cli"}
		if *principal != "" {
			p.ID = *principal
		}
		scope = domain.GlobalScope()
	default:
		p = requirePrincipal(log, *principal)
		scope = domain.ScopeFor(p.ID)
	}

	ctx, cancel := commandContext(log)
	defer cancel()
	a := cmd.build(ctx, log)
	defer a.Close()

	res, err := a.Triage.RunBatch(ctx, p, scope)
	if err != nil {
		log.Fatal().Err(err).Msg("Triage failed")
	}
	fmt.Printf("Processed %d transactions (%d fraud, %d approved) in %.3fs.\n",
		res.Processed, res.Flagged, res.Approved, res.Duration.Seconds())
}

func runScore(log zerolog.Logger) {
	cmd := newCommand("score")
	principal := cmd.fs.String("principal", "", "Principal whose transactions are scored")
	ids := cmd.fs.String("ids", "", "Comma-separated transaction ids (default: the principal's pending transactions)")
	cmd.parse()

	p := requirePrincipal(log, *principal)
	var idList []uint64
	if *ids != "" {
		for _, s := range strings.Split(*ids, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
			if err != nil {
				log.Fatal().Err(err).Str("id", s).Msg("Error: invalid transaction id")
			}
			idList = append(idList, id)
		}
	}

	ctx, cancel := commandContext(log)
	defer cancel()
	a := cmd.build(ctx, log)
	defer a.Close()

	res, err := a.Scorer.Score(ctx, p, idList)
	if err != nil {
		log.Fatal().Err(err).Msg("Scoring failed")
	}

	fmt.Printf("Scored %d transactions, %d flagged (model enabled: %t).\n", res.Scored, res.Flagged, res.ModelEnabled)
	for _, r := range res.Results {
		fmt.Printf("  %d  %s  risk=%.2f flagged=%t %s\n", r.ID, r.TransactionID, r.RiskScore, r.Flagged, r.ReasonCode)
	}
}

func runCleanse(log zerolog.Logger) {
	cmd := newCommand("cleanse")
	principal := cmd.fs.String("principal", "", "Principal whose records are cleansed")
	cmd.parse()

	p := requirePrincipal(log, *principal)

	ctx, cancel := commandContext(log)
	defer cancel()
	a := cmd.build(ctx, log)
	defer a.Close()

	res, err := a.Cleansing.Run(ctx, p)
	if err != nil {
		log.Fatal().Err(err).Msg("Cleansing failed")
	}
	fmt.Printf("Cleansed %d records: %d duplicates removed, %d normalized.\n",
		res.Processed, res.DuplicatesRemoved, res.RecordsNormalized)
}

func runExport(log zerolog.Logger) {
	cmd := newCommand("export")
	principal := cmd.fs.String("principal", "", "Principal whose report is exported")
	out := cmd.fs.String("out", "", "Output file (default: transactions_report_<timestamp>.csv)")
	cmd.parse()

	p := requirePrincipal(log, *principal)
	if *out == "" {
		*out = "transactions_report_" + time.Now().Format("20060102_150405") + ".csv"
	}

	ctx, cancel := commandContext(log)
	defer cancel()
	a := cmd.build(ctx, log)
	defer a.Close()

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create output file")
	}
	defer f.Close()

	n, err := a.Reports.ExportCSV(ctx, f, p)
	if err != nil {
		log.Fatal().Err(err).Msg("Export failed")
	}
	fmt.Printf("Wrote %d transactions to %s\n", n, *out)
}

func runWarehouse(log zerolog.Logger) {
	cmd := newCommand("warehouse")
	cmd.parse()

	ctx, cancel := commandContext(log)
	defer cancel()
	a := cmd.build(ctx, log)
	defer a.Close()

	if a.Warehouse == nil {
		log.Fatal().Msg("Error: bigquery.project_id is not configured")
	}
	res, err := a.Warehouse.Export(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Warehouse export failed")
	}
	fmt.Printf("Exported %d transactions and %d audit entries in %.3fs.\n",
		res.Transactions, res.AuditEntries, res.Duration.Seconds())
}

func runJob(log zerolog.Logger) {
	cmd := newCommand("job")
	jobID := cmd.fs.String("id", "", "Job ID to inspect")
	cmd.parse()

	if *jobID == "" {
		log.Fatal().Msg("Error: --id is required")
	}

	ctx, cancel := commandContext(log)
	defer cancel()
	a := cmd.build(ctx, log)
	defer a.Close()

	job, err := a.JobStore.GetJob(ctx, *jobID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load job")
	}

	fmt.Println("\n=== Job Details ===")
	fmt.Printf("ID:         %s\n", job.JobID)
	fmt.Printf("Type:       %s\n", job.Type)
	fmt.Printf("Principal:  %s\n", job.Principal)
	fmt.Printf("Status:     %s\n", job.Status)
	fmt.Printf("Created:    %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Retries:    %d/%d\n", job.RetryCount, job.MaxRetries)
	if job.ObjectURI != "" {
		fmt.Printf("Object:     %s\n", job.ObjectURI)
	}
	if job.Result != "" {
		fmt.Printf("Result:     %s\n", job.Result)
	}
	if job.Error != "" {
		fmt.Printf("Error:      %s\n", job.Error)
	}
	fmt.Println()
}

func runToken(log zerolog.Logger) {
	cmd := newCommand("token")
	principal := cmd.fs.String("principal", "", "Principal the token identifies")
	cmd.parse()

	p := requirePrincipal(log, *principal)
	cfg := cmd.config(log)

	tokens, err := auth.NewTokens(cfg.Auth)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create token issuer")
	}
	token, exp, err := tokens.Issue(p.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
}
