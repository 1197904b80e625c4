package warehouse

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/securepath/internal/domain"
)

// ScoredTransactionRow is one row of transactions_scored. A transaction is
// appended again every time its score or decision changes; readers take the
// latest updated_ts per id.
type ScoredTransactionRow struct {
	ID            int64  `bigquery:"id"`             // REQUIRED
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	UserID        string `bigquery:"user_id"`        // REQUIRED

	TransactionTS   time.Time  `bigquery:"transaction_ts"`   // REQUIRED
	TransactionDate civil.Date `bigquery:"transaction_date"` // DATE, UTC
	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC
	Currency        string     `bigquery:"currency"`         // REQUIRED

	Country   bigquery.NullString `bigquery:"country"`
	Merchant  string              `bigquery:"merchant"`
	IPAddress bigquery.NullString `bigquery:"ip_address"`
	DeviceID  bigquery.NullString `bigquery:"device_id"`

	RiskScore  bigquery.NullFloat64 `bigquery:"risk_score"`
	FraudScore bigquery.NullFloat64 `bigquery:"fraud_score"`
	IsFraud    bool                 `bigquery:"is_fraud"`
	ReasonCode bigquery.NullString  `bigquery:"reason_code"`
	Status     string               `bigquery:"status"`

	IngestBatchID bigquery.NullString `bigquery:"ingest_batch_id"`
	UpdatedTS     time.Time           `bigquery:"updated_ts"` // REQUIRED
	ExportedTS    time.Time           `bigquery:"exported_ts"`
}

// AuditRow is one row of audit_log.
type AuditRow struct {
	ID             int64               `bigquery:"id"`
	Action         string              `bigquery:"action"`
	TransactionRef bigquery.NullString `bigquery:"transaction_ref"`
	Details        string              `bigquery:"details"`
	Principal      bigquery.NullString `bigquery:"principal"`
	SourceAddress  bigquery.NullString `bigquery:"source_address"`
	UserAgent      bigquery.NullString `bigquery:"user_agent"`
	TS             time.Time           `bigquery:"ts"`
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

// NewScoredTransactionRow converts a stored transaction.
func NewScoredTransactionRow(tx domain.Transaction, exportedAt time.Time) *ScoredTransactionRow {
	row := &ScoredTransactionRow{
		ID:              int64(tx.ID),
		TransactionID:   tx.TransactionID,
		UserID:          tx.UserID,
		TransactionTS:   tx.Date.UTC(),
		TransactionDate: civil.DateOf(tx.Date.UTC()),
		Amount:          tx.Amount.Rat(),
		Currency:        tx.Currency,
		Country:         nullString(tx.Country),
		Merchant:        tx.Merchant,
		IPAddress:       nullString(tx.IPAddress),
		DeviceID:        nullString(tx.DeviceID),
		IsFraud:         tx.IsFraud,
		ReasonCode:      nullString(tx.ReasonCode),
		Status:          string(tx.Status),
		IngestBatchID:   nullString(tx.IngestBatchID),
		UpdatedTS:       tx.UpdatedAt.UTC(),
		ExportedTS:      exportedAt.UTC(),
	}
	if tx.RiskScore.Valid {
		row.RiskScore = bigquery.NullFloat64{Float64: tx.RiskScore.Decimal.InexactFloat64(), Valid: true}
	}
	if tx.FraudScore.Valid {
		row.FraudScore = bigquery.NullFloat64{Float64: tx.FraudScore.Decimal.InexactFloat64(), Valid: true}
	}
	if row.Status == "" {
		row.Status = string(domain.StatusPending)
	}
	return row
}

// insertID lets BigQuery drop retried duplicates of the same row version.
func (r *ScoredTransactionRow) insertID() string {
	return fmt.Sprintf("tx-%d-%d", r.ID, r.UpdatedTS.UnixNano())
}

// NewAuditRow converts an audit entry.
func NewAuditRow(e domain.AuditEntry) *AuditRow {
	return &AuditRow{
		ID:             int64(e.ID),
		Action:         e.Action,
		TransactionRef: nullString(e.TransactionRef),
		Details:        e.Details,
		Principal:      nullString(e.Principal),
		SourceAddress:  nullString(e.SourceAddress),
		UserAgent:      nullString(e.UserAgent),
		TS:             e.Timestamp.UTC(),
	}
}

func (r *AuditRow) insertID() string {
	return fmt.Sprintf("audit-%d", r.ID)
}
