package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReview   Status = "review"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReview, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Undecided reports whether a transaction in this status is still eligible for
// a fraud decision. The empty status stands for a NULL column.
func (s Status) Undecided() bool {
	return s == "" || s == StatusPending || s == StatusReview
}

// Transaction is the canonical transaction shape shared by ingestion, scoring
// and triage. Amount is fixed-point with two decimal places.
type Transaction struct {
	// ID is the internal numeric identifier assigned by the store. Zero means
	// the transaction has not been persisted.
	ID uint64 `json:"id"`

	// TransactionID is unique per owning principal.
	TransactionID string `json:"transaction_id"`

	// UserID is the owning principal.
	UserID string `json:"user_id"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Country  string          `json:"country,omitempty"`

	Date       time.Time `json:"date"`
	Merchant   string    `json:"merchant"`
	CardNumber string    `json:"card_number"`
	IPAddress  string    `json:"ip_address,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`

	// RiskScore is the 0-100 risk value. Invalid until the transaction is scored.
	RiskScore decimal.NullDecimal `json:"risk_score"`

	// FraudScore is the legacy 0.0-1.0 view.
	FraudScore decimal.NullDecimal `json:"fraud_score"`

	IsFraud      bool   `json:"is_fraud"`
	ReasonCode   string `json:"reason_code,omitempty"`
	FraudReasons string `json:"fraud_reasons,omitempty"`

	Status Status `json:"status"`

	// IngestBatchID identifies the ingest call that created the row.
	IngestBatchID string `json:"ingest_batch_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Column bounds shared by every storage backend.
const (
	MaxPrincipalLen     = 64
	MaxTransactionIDLen = 100
)

// Principal identifies the caller an operation is attributed to.
type Principal struct {
	// ID is the authenticated user identifier.
	ID string

	// Address is the caller's source address, if known.
	Address string

	// UserAgent is the caller's user agent, if known.
	UserAgent string
}

// Scope selects the transactions a batch operation works on. An empty UserID
// with Global set means every principal.
type Scope struct {
	UserID string
	Global bool
}

// ScopeFor returns the scope limited to one principal.
func ScopeFor(userID string) Scope {
	return Scope{UserID: userID}
}

// GlobalScope returns the scope covering every principal.
func GlobalScope() Scope {
	return Scope{Global: true}
}

// Cursor is a keyset position over (updated_at, id) for incremental exports.
// The zero Cursor starts from the beginning.
type Cursor struct {
	UpdatedAt time.Time `json:"updated_at"`
	ID        uint64    `json:"id"`
}

// CursorOf returns the position just at tx.
func CursorOf(tx Transaction) Cursor {
	return Cursor{UpdatedAt: tx.UpdatedAt, ID: tx.ID}
}
