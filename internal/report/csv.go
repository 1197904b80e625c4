// Package report renders a principal's transactions as a downloadable CSV.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/dvloznov/securepath/internal/audit"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/shopspring/decimal"
)

// Header is the first line of every export.
var Header = []string{
	"Transaction ID", "Date", "Merchant", "Amount", "Status",
	"Risk Score", "Fraud Score", "Is Fraud", "Country", "Currency",
}

const dateLayout = "2006-01-02 15:04:05"

// Source streams a principal's transactions.
type Source interface {
	EachTransaction(ctx context.Context, userID string, fn func(domain.Transaction) error) error
}

// Exporter writes CSV exports and audits them.
type Exporter struct {
	source   Source
	recorder audit.Recorder
}

// NewExporter creates an Exporter.
func NewExporter(source Source, recorder audit.Recorder) *Exporter {
	return &Exporter{source: source, recorder: recorder}
}

// ExportCSV writes every transaction of p to w and returns the row count. The
// audit record is written only after the last row is flushed.
func (e *Exporter) ExportCSV(ctx context.Context, w io.Writer, p domain.Principal) (int, error) {
	log := logger.FromContext(ctx)

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("report.ExportCSV: header: %w", err)
	}

	n := 0
	err := e.source.EachTransaction(ctx, p.ID, func(tx domain.Transaction) error {
		n++
		return cw.Write(Row(tx))
	})
	if err != nil {
		return n, fmt.Errorf("report.ExportCSV: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("report.ExportCSV: flush: %w", err)
	}

	audit.BestEffort(ctx, e.recorder, audit.Entry(domain.ActionReportExport,
		fmt.Sprintf("CSV report downloaded with %d transactions", n), p))
	log.Info().Str("principal", p.ID).Int("rows", n).Msg("CSV report exported")
	return n, nil
}

// Row renders one transaction in Header order.
func Row(tx domain.Transaction) []string {
	isFraud := "NO"
	if tx.IsFraud {
		isFraud = "YES"
	}
	date := ""
	if !tx.Date.IsZero() {
		date = tx.Date.UTC().Format(dateLayout)
	}
	return []string{
		tx.TransactionID,
		date,
		orDefault(tx.Merchant, "Unknown"),
		tx.Amount.StringFixed(2),
		orDefault(string(tx.Status), string(domain.StatusPending)),
		score(tx.RiskScore, 1),
		score(tx.FraudScore, 4),
		isFraud,
		orDefault(tx.Country, "US"),
		orDefault(tx.Currency, "USD"),
	}
}

func score(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return decimal.Zero.StringFixed(places)
	}
	return d.Decimal.StringFixed(places)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
