package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"time"

	"github.com/dvloznov/securepath/internal/config"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/store"
	"github.com/dvloznov/securepath/internal/warehouse"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to YAML config (or set SECUREPATH_CONFIG)")
		target        = flag.String("target", "all", "What to migrate: db, warehouse or all")
		projectID     = flag.String("project", "", "GCP project ID (defaults to bigquery.project_id)")
		datasetID     = flag.String("dataset", "", "BigQuery dataset ID (defaults to bigquery.dataset)")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "", "Directory of warehouse migrations (defaults to the embedded set)")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	if *target == "db" || *target == "all" {
		db, err := store.Open(cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		err = store.Migrate(db)
		_ = store.Close(db)
		if err != nil {
			log.Fatal().Err(err).Msg("Database migration failed")
		}
		log.Info().Msg("Database schema is up to date")
	}

	if *target != "warehouse" && *target != "all" {
		if *target != "db" {
			log.Fatal().Str("target", *target).Msg("Unknown target")
		}
		return
	}

	if *projectID == "" {
		*projectID = cfg.BigQuery.ProjectID
	}
	if *datasetID == "" {
		*datasetID = cfg.BigQuery.Dataset
	}
	if *projectID == "" {
		if *target == "all" {
			log.Info().Msg("No BigQuery project configured, skipping warehouse migrations")
			return
		}
		log.Fatal().Msg("Error: -project flag or bigquery.project_id is required")
	}

	var fsys fs.FS = warehouse.EmbeddedMigrations()
	if *migrationsDir != "" {
		fsys = os.DirFS(*migrationsDir)
	}

	migrations, err := warehouse.ReadMigrations(fsys, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	sink, err := warehouse.NewBigQuerySink(ctx, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer sink.Close()

	log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")

	applied, err := warehouse.NewMigrator(sink.Client(), *projectID, *datasetID, *appliedBy).Up(ctx, migrations)
	if err != nil {
		log.Fatal().Err(err).Int("applied", applied).Msg("Warehouse migration failed")
	}

	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Warehouse is up to date.")
	} else {
		log.Info().Int("applied", applied).Msg("Successfully applied migrations")
	}
}
