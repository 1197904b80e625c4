package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	"github.com/dvloznov/securepath/internal/config"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/reviewsync"
	"github.com/dvloznov/securepath/internal/store"
)

func main() {
	log := logger.New()

	configPath := flag.String("config", "", "Path to YAML config (or set SECUREPATH_CONFIG)")
	since := flag.String("since", "", "Only sync transactions updated after this time (any common date format)")
	notionToken := flag.String("notion-token", "", "Notion API token (defaults to notion.token)")
	notionDBID := flag.String("notion-db-id", "", "Notion database ID (defaults to notion.database_id)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *notionToken == "" {
		*notionToken = cfg.Notion.Token
	}
	if *notionDBID == "" {
		*notionDBID = cfg.Notion.DatabaseID
	}
	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required")
	}

	var from domain.Cursor
	if *since != "" {
		t, err := dateparse.ParseIn(*since, time.UTC)
		if err != nil {
			log.Fatal().Err(err).Str("since", *since).Msg("Error: invalid --since value")
		}
		from.UpdatedAt = t
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Time("since", from.UpdatedAt).
		Bool("dry_run", *dryRun).
		Msg("Starting review sync")

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close(db)

	syncer := reviewsync.NewSyncer(reviewsync.NewNotionClient(*notionToken), store.New(db, cfg.Ingest.InsertBatchSize), *notionDBID, *dryRun)
	res, err := syncer.Sync(ctx, from)
	if err != nil {
		log.Fatal().Err(err).Msg("Sync failed")
	}

	fmt.Printf("Sync completed: %d created, %d updated, %d failed.\n", res.Created, res.Updated, res.Failed)
	fmt.Printf("Resume with --since %q\n", res.Cursor.UpdatedAt.Format(time.RFC3339Nano))
}
