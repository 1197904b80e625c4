// Package cleansing removes duplicate transactions and re-normalizes stored
// fields for a principal.
package cleansing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/securepath/internal/audit"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/metrics"
)

// Repository is the storage a cleansing run needs.
type Repository interface {
	// DeleteDuplicateTransactions removes every row sharing a transaction_id
	// with an older row of the same principal.
	DeleteDuplicateTransactions(ctx context.Context, userID string) (int64, error)

	// NormalizeTransactions calls normalize on each of the principal's rows
	// and persists the rows it reports as changed. It returns how many rows
	// were visited and how many were changed.
	NormalizeTransactions(ctx context.Context, userID string, normalize func(*domain.Transaction) bool) (int64, int64, error)
}

// Result summarises a cleansing run.
type Result struct {
	Processed         int64         `json:"total_processed"`
	DuplicatesRemoved int64         `json:"duplicates_removed"`
	RecordsNormalized int64         `json:"records_normalized"`
	Duration          time.Duration `json:"duration"`
}

// Service runs cleansing.
type Service struct {
	repo     Repository
	recorder audit.Recorder
}

// NewService creates a cleansing Service.
func NewService(repo Repository, recorder audit.Recorder) *Service {
	return &Service{repo: repo, recorder: recorder}
}

// Run cleanses every transaction of p.
func (s *Service) Run(ctx context.Context, p domain.Principal) (*Result, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	res, err := s.run(ctx, p.ID)
	metrics.ObserveSince("cleanse", start, err)
	if err != nil {
		audit.Failure(ctx, s.recorder, domain.ActionDataCleansingFailed, p, err)
		return nil, err
	}
	res.Duration = time.Since(start)

	details := fmt.Sprintf("Processed %d transactions. Removed %d duplicates. Normalized %d records.",
		res.Processed, res.DuplicatesRemoved, res.RecordsNormalized)
	audit.BestEffort(ctx, s.recorder, audit.Entry(domain.ActionDataCleansing, details, p))

	log.Info().
		Str("principal", p.ID).
		Int64("duplicates", res.DuplicatesRemoved).
		Int64("normalized", res.RecordsNormalized).
		Msg("Cleansing completed")
	return res, nil
}

func (s *Service) run(ctx context.Context, userID string) (*Result, error) {
	removed, err := s.repo.DeleteDuplicateTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("cleansing.Run: duplicates: %w", err)
	}
	processed, normalized, err := s.repo.NormalizeTransactions(ctx, userID, Normalize)
	if err != nil {
		return nil, fmt.Errorf("cleansing.Run: normalize: %w", err)
	}
	return &Result{
		Processed:         processed,
		DuplicatesRemoved: removed,
		RecordsNormalized: normalized,
	}, nil
}

// Normalize canonicalizes country, currency, amount and merchant in place and
// reports whether anything changed.
func Normalize(tx *domain.Transaction) bool {
	changed := false
	set := func(dst *string, v string) {
		if *dst != v {
			*dst = v
			changed = true
		}
	}

	if tx.Country != "" {
		set(&tx.Country, cut(strings.ToUpper(strings.TrimSpace(tx.Country)), 2))
	}
	if tx.Currency != "" {
		set(&tx.Currency, cut(strings.ToUpper(strings.TrimSpace(tx.Currency)), 3))
	}
	if tx.Merchant != "" {
		set(&tx.Merchant, cut(strings.TrimSpace(tx.Merchant), 200))
	}
	if rounded := tx.Amount.Round(2); !rounded.Equal(tx.Amount) {
		tx.Amount = rounded
		changed = true
	}
	return changed
}

func cut(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
