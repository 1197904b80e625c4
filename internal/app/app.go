// Package app wires the services shared by the API, worker and CLI binaries
// from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/securepath/internal/aggregator"
	"github.com/dvloznov/securepath/internal/alerts"
	"github.com/dvloznov/securepath/internal/audit"
	"github.com/dvloznov/securepath/internal/auth"
	"github.com/dvloznov/securepath/internal/cleansing"
	"github.com/dvloznov/securepath/internal/config"
	"github.com/dvloznov/securepath/internal/fraud"
	"github.com/dvloznov/securepath/internal/geo"
	"github.com/dvloznov/securepath/internal/ingest"
	"github.com/dvloznov/securepath/internal/jobs"
	"github.com/dvloznov/securepath/internal/jobs/inmemory"
	"github.com/dvloznov/securepath/internal/jobs/redisqueue"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/pipeline"
	"github.com/dvloznov/securepath/internal/report"
	"github.com/dvloznov/securepath/internal/store"
	"github.com/dvloznov/securepath/internal/triage"
	"github.com/dvloznov/securepath/internal/uploads"
	"github.com/dvloznov/securepath/internal/warehouse"
	"github.com/dvloznov/securepath/internal/worker"
	"github.com/redis/go-redis/v9"
)

// Queue is the job queue as both sides see it.
type Queue interface {
	jobs.Publisher
	jobs.Consumer
}

// App holds the assembled services. Optional integrations are nil when their
// config section is empty.
type App struct {
	Config *config.Config

	Store     *store.Store
	Audit     *audit.Service
	Ingest    *ingest.Service
	Scorer    *fraud.Scorer
	Triage    *triage.Processor
	Cleansing *cleansing.Service
	Reports   *report.Exporter

	Archive  uploads.Archive
	JobStore jobs.JobStore
	Queue    Queue
	Pipeline *pipeline.Pipeline
	Handler  *worker.Handler

	Tokens    *auth.Tokens
	Plaid     *aggregator.Client
	Importer  *aggregator.Importer
	Alerts    *alerts.Publisher
	Warehouse *warehouse.Exporter
	Redis     *redis.Client

	closers []func() error
}

// Build connects every backing service named in cfg. The returned App must be
// closed; on error everything opened so far is already released.
func Build(ctx context.Context, cfg *config.Config) (a *App, err error) {
	log := logger.FromContext(ctx)
	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.onClose(func() error { return store.Close(db) })
	a.Store = store.New(db, cfg.Ingest.InsertBatchSize)
	a.Audit = audit.NewService(a.Store)

	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.onClose(a.Redis.Close)
	}

	var ingestOpts []ingest.Option
	if cfg.GeoIP.DatabasePath != "" {
		mm, err := geo.OpenMaxMind(cfg.GeoIP.DatabasePath)
		if err != nil {
			return nil, err
		}
		a.onClose(mm.Close)
		var resolver ingest.CountryResolver = mm
		if a.Redis != nil {
			resolver = geo.NewCache(a.Redis, mm, cfg.GeoIP.CacheTTL)
		}
		ingestOpts = append(ingestOpts, ingest.WithCountryResolver(resolver))
	}
	a.Ingest = ingest.NewService(a.Store, a.Audit, cfg.IngestLimits(), ingestOpts...)

	scorerOpts := []fraud.ScorerOption{fraud.WithMaxBatch(cfg.Scoring.MaxBatch)}
	switch {
	case cfg.Model.Endpoint != "":
		scorerOpts = append(scorerOpts, fraud.WithModel(fraud.NewRemoteModel(cfg.Model.Endpoint, cfg.Model.Timeout)))
	case cfg.Model.Path != "":
		model, err := fraud.LoadLinearModel(cfg.Model.Path)
		if err != nil {
			return nil, err
		}
		scorerOpts = append(scorerOpts, fraud.WithModel(model))
	default:
		log.Warn().Msg("No anomaly model configured, scores use rules only")
	}

	var listeners []triage.Listener
	if len(cfg.Kafka.Brokers) > 0 {
		a.Alerts, err = alerts.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		a.onClose(a.Alerts.Close)
		scorerOpts = append(scorerOpts, fraud.WithNotifier(a.Alerts))
		listeners = append(listeners, a.Alerts)
	}

	if cfg.BigQuery.ProjectID != "" {
		sink, err := warehouse.NewBigQuerySink(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset)
		if err != nil {
			return nil, err
		}
		a.onClose(sink.Close)
		a.Warehouse = warehouse.NewExporter(a.Store, sink, warehouse.DefaultBatchSize)
		listeners = append(listeners, a.Warehouse)
	}

	a.Scorer = fraud.NewScorer(fraud.NewEngine(cfg.RuleConfig()), fraud.NewCombiner(cfg.CombinerConfig()), a.Store, a.Audit, scorerOpts...)
	a.Triage = triage.NewProcessor(a.Store, a.Audit, cfg.TriageConfig(), listeners...)
	a.Cleansing = cleansing.NewService(a.Store, a.Audit)
	a.Reports = report.NewExporter(a.Store, a.Audit)

	if err := a.buildJobs(ctx); err != nil {
		return nil, err
	}

	if cfg.Auth.Secret != "" {
		if a.Tokens, err = auth.NewTokens(cfg.Auth); err != nil {
			return nil, err
		}
	} else if !cfg.Auth.Disabled {
		return nil, fmt.Errorf("app.Build: auth.secret is required unless auth.disabled is set")
	}

	a.Plaid, err = aggregator.NewClient(cfg.Plaid)
	switch {
	case errors.Is(err, aggregator.ErrNotConfigured):
		a.Plaid = nil
	case err != nil:
		return nil, err
	default:
		a.Importer = aggregator.NewImporter(a.Plaid, a.Ingest, cfg.Plaid.Days)
	}

	return a, nil
}

func (a *App) buildJobs(ctx context.Context) error {
	cfg := a.Config

	if cfg.GCS.Bucket != "" {
		archive, err := uploads.NewGCSArchive(ctx, cfg.GCS.Bucket)
		if err != nil {
			return err
		}
		a.onClose(archive.Close)
		a.Archive = archive
	} else {
		a.Archive = uploads.NewMemoryArchive()
	}

	switch cfg.Jobs.Backend {
	case "redis":
		if a.Redis == nil {
			return fmt.Errorf("app.Build: jobs.backend redis needs redis.addr")
		}
		js := redisqueue.NewStore(a.Redis, "")
		a.JobStore = js
		a.Queue = redisqueue.NewQueue(a.Redis, js,
			redisqueue.WithWorkers(cfg.Jobs.Workers),
			redisqueue.WithMaxRetries(cfg.Jobs.MaxRetries))
	default:
		js := inmemory.NewStore()
		a.JobStore = js
		a.Queue = inmemory.NewQueue(cfg.Jobs.BufferSize, js,
			inmemory.WithWorkers(cfg.Jobs.Workers),
			inmemory.WithMaxRetries(cfg.Jobs.MaxRetries))
	}
	a.onClose(a.Queue.Close)

	deps := pipeline.Deps{Archive: a.Archive, Ingester: a.Ingest, Limits: cfg.IngestLimits()}
	if cfg.Statements.Enabled {
		parser, err := pipeline.NewGeminiParser(ctx, cfg.Statements.Model)
		if err != nil {
			return err
		}
		deps.Parser = parser
	}
	a.Pipeline = pipeline.NewUploadIngestionPipeline(deps)
	a.Handler = worker.NewHandler(a.Pipeline, a.Triage)
	return nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything Build opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
