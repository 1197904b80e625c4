package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/ingest"
	"github.com/dvloznov/securepath/internal/logger"
)

// DefaultDays is the import window.
const DefaultDays = 30

// Source lists aggregator transactions.
type Source interface {
	Transactions(ctx context.Context, accessToken string, start, end time.Time) ([]Transaction, error)
}

// Ingester is the part of ingest.Service the importer needs.
type Ingester interface {
	IngestRows(ctx context.Context, rows []ingest.Row, p domain.Principal, source string) (*ingest.Result, error)
}

// Importer pulls recent aggregator transactions into the store.
type Importer struct {
	source   Source
	ingester Ingester
	days     int
	now      func() time.Time
}

// NewImporter creates an Importer. days <= 0 uses DefaultDays.
func NewImporter(source Source, ingester Ingester, days int) *Importer {
	if days <= 0 {
		days = DefaultDays
	}
	return &Importer{source: source, ingester: ingester, days: days, now: time.Now}
}

// Sync imports the last days of transactions for the item behind
// accessToken. Rows go through the normal normalizer, so ids are scoped to
// the principal and re-syncing is idempotent.
func (i *Importer) Sync(ctx context.Context, p domain.Principal, accessToken string) (*ingest.Result, error) {
	log := logger.FromContext(ctx)

	end := i.now().UTC()
	start := end.AddDate(0, 0, -i.days)
	txs, err := i.source.Transactions(ctx, accessToken, start, end)
	if err != nil {
		return nil, fmt.Errorf("aggregator.Sync: %w", err)
	}

	res, err := i.ingester.IngestRows(ctx, ToRows(txs), p, ingest.SourceAggregator)
	if err != nil {
		return nil, fmt.Errorf("aggregator.Sync: %w", err)
	}
	log.Info().Str("principal", p.ID).Int("fetched", len(txs)).Int("inserted", res.InsertedCount).Msg("Aggregator sync completed")
	return res, nil
}

// ToRows maps aggregator transactions onto canonical ingest rows.
func ToRows(txs []Transaction) []ingest.Row {
	rows := make([]ingest.Row, 0, len(txs))
	for _, t := range txs {
		merchant := t.MerchantName
		if merchant == "" {
			merchant = t.Name
		}
		fields := map[string]string{
			ingest.FieldTransactionID: t.TransactionID,
			ingest.FieldDate:          t.Date,
			ingest.FieldAmount:        formatAmount(t.Amount),
			ingest.FieldMerchant:      merchant,
		}
		if t.ISOCurrencyCode != "" {
			fields[ingest.FieldCurrency] = t.ISOCurrencyCode
		}
		if t.Location.Country != "" {
			fields[ingest.FieldCountry] = t.Location.Country
		}
		rows = append(rows, ingest.NewRow(fields))
	}
	return rows
}
