package domain

import "time"

// Audit actions written by the core operations.
const (
	ActionCSVUpload            = "CSV_UPLOAD"
	ActionCSVUploadFailed      = "CSV_UPLOAD_FAILED"
	ActionAggregatorImport     = "AGGREGATOR_IMPORT"
	ActionFraudDetection       = "FRAUD_DETECTION"
	ActionFraudDetectionFailed = "FRAUD_DETECTION_FAILED"
	ActionFraudScoring         = "FRAUD_SCORING"
	ActionFraudScoringFailed   = "FRAUD_SCORING_FAILED"
	ActionDataCleansing        = "DATA_CLEANSING"
	ActionDataCleansingFailed  = "DATA_CLEANSING_FAILED"
	ActionReportExport         = "REPORT_EXPORT"
	ActionUploadQueued         = "UPLOAD_QUEUED"
)

// AuditEntry is one immutable audit log record.
type AuditEntry struct {
	ID             uint64    `json:"id"`
	Action         string    `json:"action"`
	TransactionRef string    `json:"transaction_id,omitempty"`
	Details        string    `json:"details"`
	Principal      string    `json:"user,omitempty"`
	SourceAddress  string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Page describes a requested slice of a listing.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NewPage clamps the requested page number and size to valid bounds.
func NewPage(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// Stats summarises a principal's transactions for the dashboard.
type Stats struct {
	Total       int64  `json:"total_transactions"`
	FraudCount  int64  `json:"fraud_detected"`
	Pending     int64  `json:"pending_review"`
	TotalAmount string `json:"total_amount"`
}
