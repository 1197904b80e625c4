package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/securepath/internal/app"
	"github.com/dvloznov/securepath/internal/config"
	"github.com/dvloznov/securepath/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (or set SECUREPATH_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Failed to load config")
	}

	log, err := logger.Configure(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Failed to configure logger")
	}

	// A memory queue in a separate process would never see the API's jobs.
	if cfg.Jobs.Backend != "redis" {
		log.Fatal().Str("backend", cfg.Jobs.Backend).Msg("Worker service requires jobs.backend=redis")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting worker service")

	if err := a.Queue.Start(ctx, a.Handler.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
