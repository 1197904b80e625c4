// Package warehouse streams scored transactions and the audit trail into
// BigQuery for analytics, and owns the warehouse DDL migrations.
package warehouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/triage"
)

// DefaultBatchSize bounds rows per streaming insert.
const DefaultBatchSize = 500

// Source reads changes from the operational store.
type Source interface {
	ListScoredSince(ctx context.Context, c domain.Cursor, limit int) ([]domain.Transaction, error)
	ListAuditAfter(ctx context.Context, afterID uint64, limit int) ([]domain.AuditEntry, error)
}

// Sink receives exported rows.
type Sink interface {
	InsertTransactions(ctx context.Context, rows []*ScoredTransactionRow) error
	InsertAudit(ctx context.Context, rows []*AuditRow) error
	Watermarks(ctx context.Context) (Watermark, error)
}

// Watermark is how far a previous export got.
type Watermark struct {
	TransactionsUpdatedAfter time.Time `json:"transactions_updated_after"`
	AuditAfterID             uint64    `json:"audit_after_id"`
}

// Result summarises one export run.
type Result struct {
	Transactions int           `json:"transactions"`
	AuditEntries int           `json:"audit_entries"`
	Watermark    Watermark     `json:"watermark"`
	Duration     time.Duration `json:"duration"`
}

// Exporter copies new rows from Source to Sink.
type Exporter struct {
	mu        sync.Mutex
	source    Source
	sink      Sink
	batchSize int
	now       func() time.Time
}

// NewExporter creates an Exporter. batchSize <= 0 uses DefaultBatchSize.
func NewExporter(source Source, sink Sink, batchSize int) *Exporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Exporter{source: source, sink: sink, batchSize: batchSize, now: time.Now}
}

// Export resumes from the sink's watermark. Transactions are re-read from
// the first row at the watermark timestamp; their insert ids make the
// overlap harmless.
func (e *Exporter) Export(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := logger.FromContext(ctx)
	start := e.now()

	wm, err := e.sink.Watermarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("warehouse.Export: %w", err)
	}
	res := &Result{Watermark: wm}

	cursor := domain.Cursor{}
	if !wm.TransactionsUpdatedAfter.IsZero() {
		// keyset resumes strictly after (ts, 0), i.e. at ts itself
		cursor = domain.Cursor{UpdatedAt: wm.TransactionsUpdatedAfter}
	}
	for {
		txs, err := e.source.ListScoredSince(ctx, cursor, e.batchSize)
		if err != nil {
			return res, fmt.Errorf("warehouse.Export: transactions: %w", err)
		}
		if len(txs) == 0 {
			break
		}
		exportedAt := e.now()
		rows := make([]*ScoredTransactionRow, len(txs))
		for i, tx := range txs {
			rows[i] = NewScoredTransactionRow(tx, exportedAt)
		}
		if err := e.sink.InsertTransactions(ctx, rows); err != nil {
			return res, fmt.Errorf("warehouse.Export: %w", err)
		}
		res.Transactions += len(rows)
		cursor = domain.CursorOf(txs[len(txs)-1])
		res.Watermark.TransactionsUpdatedAfter = cursor.UpdatedAt
	}

	afterID := wm.AuditAfterID
	for {
		entries, err := e.source.ListAuditAfter(ctx, afterID, e.batchSize)
		if err != nil {
			return res, fmt.Errorf("warehouse.Export: audit: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		rows := make([]*AuditRow, len(entries))
		for i, entry := range entries {
			rows[i] = NewAuditRow(entry)
		}
		if err := e.sink.InsertAudit(ctx, rows); err != nil {
			return res, fmt.Errorf("warehouse.Export: %w", err)
		}
		res.AuditEntries += len(rows)
		afterID = entries[len(entries)-1].ID
		res.Watermark.AuditAfterID = afterID
	}

	res.Duration = e.now().Sub(start)
	log.Info().
		Int("transactions", res.Transactions).
		Int("audit_entries", res.AuditEntries).
		Time("updated_after", res.Watermark.TransactionsUpdatedAfter).
		Uint64("audit_after_id", res.Watermark.AuditAfterID).
		Dur("duration", res.Duration).
		Msg("Warehouse export completed")
	return res, nil
}

// BatchCompleted implements triage.Listener: decided rows reach the warehouse
// right after a triage batch instead of waiting for the next scheduled export.
func (e *Exporter) BatchCompleted(ctx context.Context, p domain.Principal, scope domain.Scope, res triage.BatchResult) error {
	_, err := e.Export(ctx)
	return err
}
