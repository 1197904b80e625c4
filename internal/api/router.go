// Package api assembles the HTTP surface of the service.
package api

import (
	"net/http"

	"github.com/dvloznov/securepath/internal/api/handlers"
	"github.com/dvloznov/securepath/internal/api/middleware"
	"github.com/dvloznov/securepath/internal/metrics"
	"github.com/rs/zerolog"
)

// Handlers groups the endpoint handlers served by the router.
type Handlers struct {
	Health       *handlers.HealthHandler
	Transactions *handlers.TransactionsHandler
	Uploads      *handlers.UploadsHandler
	Fraud        *handlers.FraudHandler
	Reports      *handlers.ReportsHandler
	Jobs         *handlers.JobsHandler
	Plaid        *handlers.PlaidHandler
}

// AuthOptions configures middleware.Auth for /api/v1.
type AuthOptions struct {
	Verifier middleware.TokenVerifier
	Disabled bool
}

// NewRouter builds the route table and wraps it in the middleware chain.
// Handlers left nil are not routed.
func NewRouter(h Handlers, auth AuthOptions, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	if h.Health != nil {
		mux.HandleFunc("GET /health", h.Health.Health)
	}
	mux.Handle("GET /metrics", metrics.Handler())

	v1 := http.NewServeMux()
	if h.Transactions != nil {
		v1.HandleFunc("POST /api/v1/transactions/upload", h.Transactions.Upload)
		v1.HandleFunc("GET /api/v1/dashboard/stats", h.Transactions.Stats)
		v1.HandleFunc("GET /api/v1/dashboard/transactions", h.Transactions.ListTransactions)
	}
	if h.Uploads != nil {
		v1.HandleFunc("POST /api/v1/uploads", h.Uploads.Enqueue)
	}
	if h.Jobs != nil {
		v1.HandleFunc("GET /api/v1/jobs", h.Jobs.ListJobs)
		v1.HandleFunc("GET /api/v1/jobs/{id}", h.Jobs.GetJob)
	}
	if h.Fraud != nil {
		v1.HandleFunc("POST /api/v1/fraud/detect", h.Fraud.Detect)
		v1.HandleFunc("POST /api/v1/fraud/score", h.Fraud.Score)
		v1.HandleFunc("POST /api/v1/cleansing/run", h.Fraud.Cleanse)
	}
	if h.Reports != nil {
		v1.HandleFunc("GET /api/v1/audit-log", h.Reports.AuditLog)
		v1.HandleFunc("GET /api/v1/reports/export.csv", h.Reports.ExportCSV)
	}
	if h.Plaid != nil {
		v1.HandleFunc("POST /api/v1/plaid/link-token", h.Plaid.CreateLinkToken)
		v1.HandleFunc("POST /api/v1/plaid/exchange", h.Plaid.ExchangePublicToken)
		v1.HandleFunc("POST /api/v1/plaid/sync", h.Plaid.Sync)
	}
	mux.Handle("/api/v1/", middleware.Auth(auth.Verifier, auth.Disabled)(v1))

	// RequestID runs first so the request logger carries the ID.
	return middleware.RequestID(
		middleware.Logger(log)(
			middleware.Recovery(log)(
				middleware.CORS(mux),
			),
		),
	)
}
