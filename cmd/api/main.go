package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/securepath/internal/api"
	"github.com/dvloznov/securepath/internal/api/handlers"
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

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	// The memory queue lives in this process, so its workers must too.
	inProcessWorker := cfg.Jobs.Backend == "memory"
	if inProcessWorker {
		log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting in-process job worker")
		if err := a.Queue.Start(ctx, a.Handler.Handle); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job worker")
		}
	}

	uploadsHandler := handlers.NewUploadsHandler(a.Archive, a.Queue, a.Audit, cfg.GCS.Prefix, cfg.Ingest.MaxPayloadBytes)
	plaidHandler := handlers.NewPlaidHandler(nil, nil)
	if a.Plaid != nil {
		plaidHandler = handlers.NewPlaidHandler(a.Plaid, a.Importer)
	}

	h := api.Handlers{
		Health:       handlers.NewHealthHandler(a.Store),
		Transactions: handlers.NewTransactionsHandler(a.Ingest, a.Store, uploadsHandler, cfg.Ingest.AsyncThresholdBytes),
		Uploads:      uploadsHandler,
		Fraud:        handlers.NewFraudHandler(a.Triage, a.Scorer, a.Cleansing),
		Reports:      handlers.NewReportsHandler(a.Audit, a.Reports),
		Jobs:         handlers.NewJobsHandler(a.JobStore),
		Plaid:        plaidHandler,
	}

	authOpts := api.AuthOptions{Disabled: cfg.Auth.Disabled}
	if a.Tokens != nil {
		authOpts.Verifier = a.Tokens
	}
	if cfg.Auth.Disabled {
		log.Warn().Msg("Authentication is disabled, principals come from the X-Principal header")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(h, authOpts, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Workers stop after the server so in-flight requests can still publish.
	cancel()
	if inProcessWorker {
		if err := a.Queue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job queue")
		}
	}

	log.Info().Msg("Server exited")
}
