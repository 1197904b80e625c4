package store

import (
	"time"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/shopspring/decimal"
)

// TransactionModel maps the transactions table.
type TransactionModel struct {
	ID            uint64              `gorm:"column:id;primaryKey;autoIncrement"`
	TransactionID string              `gorm:"column:transaction_id;type:varchar(100);not null;uniqueIndex:idx_transactions_user_txn,priority:2"`
	UserID        string              `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:idx_transactions_user_txn,priority:1;index:idx_transactions_user_status,priority:1"`
	Amount        decimal.Decimal     `gorm:"column:amount;type:decimal(12,2);not null"`
	Currency      string              `gorm:"column:currency;type:varchar(3);not null;default:USD"`
	Country       *string             `gorm:"column:country;type:varchar(2)"`
	Date          time.Time           `gorm:"column:date;not null;index"`
	Merchant      string              `gorm:"column:merchant;type:varchar(200);not null"`
	CardNumber    string              `gorm:"column:card_number;type:varchar(20);not null"`
	IPAddress     *string             `gorm:"column:ip_address;type:varchar(45);index"`
	DeviceID      *string             `gorm:"column:device_id;type:varchar(100)"`
	RiskScore     decimal.NullDecimal `gorm:"column:risk_score;type:decimal(5,2)"`
	FraudScore    decimal.NullDecimal `gorm:"column:fraud_score;type:decimal(5,4)"`
	IsFraud       bool                `gorm:"column:is_fraud;not null;default:false"`
	ReasonCode    *string             `gorm:"column:reason_code;type:text"`
	FraudReasons  *string             `gorm:"column:fraud_reasons;type:text"`
	Status        *string             `gorm:"column:status;type:varchar(10);index:idx_transactions_user_status,priority:2"`
	IngestBatchID string              `gorm:"column:ingest_batch_id;type:varchar(36);index"`
	CreatedAt     time.Time           `gorm:"column:created_at"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;index"`
}

func (TransactionModel) TableName() string { return "transactions" }

// AuditLogModel maps the append-only audit_logs table.
type AuditLogModel struct {
	ID             uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Action         string    `gorm:"column:action;type:varchar(50);not null;index"`
	TransactionRef *string   `gorm:"column:transaction_id;type:varchar(100)"`
	Details        string    `gorm:"column:details;type:text"`
	Principal      *string   `gorm:"column:user_id;type:varchar(64);index"`
	SourceAddress  *string   `gorm:"column:ip_address;type:varchar(45)"`
	UserAgent      *string   `gorm:"column:user_agent;type:varchar(255)"`
	Timestamp      time.Time `gorm:"column:timestamp;not null;index"`
}

func (AuditLogModel) TableName() string { return "audit_logs" }

// --- mapping helpers ---

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toTransactionModel(tx *domain.Transaction) *TransactionModel {
	status := string(tx.Status)
	if status == "" {
		status = string(domain.StatusPending)
	}
	return &TransactionModel{
		ID:            tx.ID,
		TransactionID: tx.TransactionID,
		UserID:        tx.UserID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Country:       nullable(tx.Country),
		Date:          tx.Date,
		Merchant:      tx.Merchant,
		CardNumber:    tx.CardNumber,
		IPAddress:     nullable(tx.IPAddress),
		DeviceID:      nullable(tx.DeviceID),
		RiskScore:     tx.RiskScore,
		FraudScore:    tx.FraudScore,
		IsFraud:       tx.IsFraud,
		ReasonCode:    nullable(tx.ReasonCode),
		FraudReasons:  nullable(tx.FraudReasons),
		Status:        &status,
		IngestBatchID: tx.IngestBatchID,
	}
}

func toTransaction(m *TransactionModel) domain.Transaction {
	return domain.Transaction{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		UserID:        m.UserID,
		Amount:        m.Amount,
		Currency:      m.Currency,
		Country:       deref(m.Country),
		Date:          m.Date,
		Merchant:      m.Merchant,
		CardNumber:    m.CardNumber,
		IPAddress:     deref(m.IPAddress),
		DeviceID:      deref(m.DeviceID),
		RiskScore:     m.RiskScore,
		FraudScore:    m.FraudScore,
		IsFraud:       m.IsFraud,
		ReasonCode:    deref(m.ReasonCode),
		FraudReasons:  deref(m.FraudReasons),
		Status:        domain.Status(deref(m.Status)),
		IngestBatchID: m.IngestBatchID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toTransactions(ms []TransactionModel) []domain.Transaction {
	out := make([]domain.Transaction, len(ms))
	for i := range ms {
		out[i] = toTransaction(&ms[i])
	}
	return out
}

func toAuditModel(e *domain.AuditEntry) *AuditLogModel {
	return &AuditLogModel{
		Action:         e.Action,
		TransactionRef: nullable(e.TransactionRef),
		Details:        e.Details,
		Principal:      nullable(e.Principal),
		SourceAddress:  nullable(e.SourceAddress),
		UserAgent:      nullable(e.UserAgent),
		Timestamp:      e.Timestamp,
	}
}

func toAuditEntry(m *AuditLogModel) domain.AuditEntry {
	return domain.AuditEntry{
		ID:             m.ID,
		Action:         m.Action,
		TransactionRef: deref(m.TransactionRef),
		Details:        m.Details,
		Principal:      deref(m.Principal),
		SourceAddress:  deref(m.SourceAddress),
		UserAgent:      deref(m.UserAgent),
		Timestamp:      m.Timestamp,
	}
}
