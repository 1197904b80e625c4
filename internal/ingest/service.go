// Package ingest turns heterogeneous source rows into canonical pending
// transactions and stores the ones the principal does not already have.
package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dvloznov/securepath/internal/audit"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/metrics"
	"github.com/google/uuid"
)

// Sources recorded in metrics and audit details.
const (
	SourceCSV        = "csv"
	SourceStatement  = "statement"
	SourceAggregator = "aggregator"
)

// maxResultWarnings caps the warnings returned to the caller. Every warning
// is still logged.
const maxResultWarnings = 100

// Repository is the storage ingestion needs.
type Repository interface {
	// ExistingTransactionIDs returns which of ids the principal already owns.
	ExistingTransactionIDs(ctx context.Context, userID string, ids []string) (map[string]struct{}, error)

	// InsertIgnoreConflicts inserts txs, silently skipping rows that collide on
	// (user_id, transaction_id), and returns the ids of the rows created by
	// this batch.
	InsertIgnoreConflicts(ctx context.Context, batchID string, txs []domain.Transaction) ([]uint64, error)
}

// Result summarises an ingest call.
type Result struct {
	BatchID        string    `json:"batch_id"`
	ReadCount      int       `json:"read_count"`
	InsertedCount  int       `json:"inserted_count"`
	SkippedCount   int       `json:"skipped_count"`
	DuplicateCount int       `json:"duplicate_count"`
	CreatedIDs     []uint64  `json:"created_ids"`
	Warnings       []Warning `json:"warnings,omitempty"`
}

// Service runs ingestion.
type Service struct {
	repo       Repository
	recorder   audit.Recorder
	normalizer *Normalizer
	limits     Limits
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCountryResolver enables country backfill from the IP address.
func WithCountryResolver(r CountryResolver) Option {
	return func(s *Service) { s.normalizer = NewNormalizer(r) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an ingestion Service.
func NewService(repo Repository, recorder audit.Recorder, limits Limits, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		recorder:   recorder,
		normalizer: NewNormalizer(nil),
		limits:     limits,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limits returns the configured limits.
func (s *Service) Limits() Limits {
	return s.limits
}

// IngestCSV reads a CSV (optionally gzip-compressed) document and ingests
// its rows for p. name identifies the source in the audit trail.
func (s *Service) IngestCSV(ctx context.Context, r io.Reader, p domain.Principal, name string) (*Result, error) {
	rows, err := ReadCSV(r, s.limits)
	if err != nil {
		audit.Failure(ctx, s.recorder, domain.ActionCSVUploadFailed, p, fmt.Errorf("%s: %w", name, err))
		metrics.IngestRows.WithLabelValues(SourceCSV, "rejected").Inc()
		return nil, fmt.Errorf("IngestCSV: %w", err)
	}
	return s.ingest(ctx, rows, p, SourceCSV, name, time.Time{})
}

// IngestRows ingests already-extracted rows. source is one of the Source*
// constants.
func (s *Service) IngestRows(ctx context.Context, rows []Row, p domain.Principal, source string) (*Result, error) {
	return s.ingest(ctx, rows, p, source, source, time.Time{})
}

// IngestNamedRows is IngestRows with the originating file name recorded in
// the audit trail. A non-zero ingestedAt replaces the clock: generated ids
// and fallback dates derive from it, so a retried job passing the same
// instant produces the same ids and deduplicates against its earlier run.
func (s *Service) IngestNamedRows(ctx context.Context, rows []Row, p domain.Principal, source, name string, ingestedAt time.Time) (*Result, error) {
	return s.ingest(ctx, rows, p, source, name, ingestedAt)
}

func (s *Service) ingest(ctx context.Context, rows []Row, p domain.Principal, source, name string, ingestedAt time.Time) (*Result, error) {
	start := time.Now()
	res, err := s.run(ctx, rows, p, source, ingestedAt)
	metrics.ObserveSince("ingest", start, err)
	if err != nil {
		audit.Failure(ctx, s.recorder, domain.ActionCSVUploadFailed, p, fmt.Errorf("%s: %w", name, err))
		return nil, err
	}

	action := domain.ActionCSVUpload
	if source == SourceAggregator {
		action = domain.ActionAggregatorImport
	}
	details := fmt.Sprintf("Processed %d rows from %s. Added %d new transaction records. Skipped %d rows. Ignored %d duplicates.",
		res.ReadCount, name, res.InsertedCount, res.SkippedCount, res.DuplicateCount)
	audit.BestEffort(ctx, s.recorder, audit.Entry(action, details, p))
	return res, nil
}

func (s *Service) run(ctx context.Context, rows []Row, p domain.Principal, source string, ingestedAt time.Time) (*Result, error) {
	log := logger.FromContext(ctx)

	if p.ID == "" {
		return nil, fmt.Errorf("IngestRows: principal is required")
	}
	if len(p.ID) > domain.MaxPrincipalLen {
		return nil, fmt.Errorf("IngestRows: principal longer than %d characters", domain.MaxPrincipalLen)
	}
	if s.limits.MaxRows > 0 && len(rows) > s.limits.MaxRows {
		return nil, fmt.Errorf("IngestRows: %w: %d rows, limit %d", ErrTooManyRows, len(rows), s.limits.MaxRows)
	}

	res := &Result{
		BatchID:    uuid.NewString(),
		ReadCount:  len(rows),
		CreatedIDs: []uint64{},
	}
	if ingestedAt.IsZero() {
		ingestedAt = s.now()
	}
	ingestedAt = ingestedAt.UTC()

	candidates := make([]domain.Transaction, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for i, row := range rows {
		tx, warnings, err := s.normalizer.Normalize(ctx, row, i, p.ID, ingestedAt)
		for _, w := range warnings {
			log.Warn().Int("row", w.Row).Str("field", w.Field).Str("value", w.Value).Msg(w.Message)
			if len(res.Warnings) < maxResultWarnings {
				res.Warnings = append(res.Warnings, w)
			}
		}
		if err != nil {
			log.Warn().Err(err).Msg("Skipping row")
			res.SkippedCount++
			continue
		}
		if _, dup := seen[tx.TransactionID]; dup {
			res.DuplicateCount++
			continue
		}
		seen[tx.TransactionID] = struct{}{}
		tx.IngestBatchID = res.BatchID
		candidates = append(candidates, tx)
	}

	if len(candidates) > 0 {
		ids := make([]string, len(candidates))
		for i, tx := range candidates {
			ids[i] = tx.TransactionID
		}
		existing, err := s.repo.ExistingTransactionIDs(ctx, p.ID, ids)
		if err != nil {
			return nil, fmt.Errorf("IngestRows: loading existing ids: %w", err)
		}

		fresh := candidates[:0]
		for _, tx := range candidates {
			if _, ok := existing[tx.TransactionID]; ok {
				res.DuplicateCount++
				continue
			}
			fresh = append(fresh, tx)
		}

		if len(fresh) > 0 {
			created, err := s.repo.InsertIgnoreConflicts(ctx, res.BatchID, fresh)
			if err != nil {
				return nil, fmt.Errorf("IngestRows: inserting: %w", err)
			}
			res.CreatedIDs = created
			res.InsertedCount = len(created)
			// rows lost to a concurrent insert of the same id
			res.DuplicateCount += len(fresh) - len(created)
		}
	}

	metrics.IngestRows.WithLabelValues(source, "read").Add(float64(res.ReadCount))
	metrics.IngestRows.WithLabelValues(source, "inserted").Add(float64(res.InsertedCount))
	metrics.IngestRows.WithLabelValues(source, "skipped").Add(float64(res.SkippedCount))
	metrics.IngestRows.WithLabelValues(source, "duplicate").Add(float64(res.DuplicateCount))

	log.Info().
		Str("batch_id", res.BatchID).
		Str("principal", p.ID).
		Str("source", source).
		Int("read", res.ReadCount).
		Int("inserted", res.InsertedCount).
		Int("skipped", res.SkippedCount).
		Int("duplicates", res.DuplicateCount).
		Msg("Ingestion completed")

	return res, nil
}
