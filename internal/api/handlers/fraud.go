package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dvloznov/securepath/internal/api/middleware"
	"github.com/dvloznov/securepath/internal/cleansing"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/fraud"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/triage"
)

// BatchRunner runs batch triage.
type BatchRunner interface {
	RunBatch(ctx context.Context, principal domain.Principal, scope domain.Scope) (*triage.BatchResult, error)
}

// TransactionScorer runs per-transaction scoring.
type TransactionScorer interface {
	Score(ctx context.Context, p domain.Principal, ids []uint64) (*fraud.ScoreResult, error)
}

// Cleanser runs the data cleansing pass.
type Cleanser interface {
	Run(ctx context.Context, p domain.Principal) (*cleansing.Result, error)
}

// FraudHandler handles fraud detection, scoring and cleansing endpoints.
type FraudHandler struct {
	batch    BatchRunner
	scorer   TransactionScorer
	cleanser Cleanser
}

// NewFraudHandler creates a new fraud handler.
func NewFraudHandler(batch BatchRunner, scorer TransactionScorer, cleanser Cleanser) *FraudHandler {
	return &FraudHandler{batch: batch, scorer: scorer, cleanser: cleanser}
}

// Detect handles POST /api/v1/fraud/detect. Triage always runs over the
// caller's own transactions.
func (h *FraudHandler) Detect(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	res, err := h.batch.RunBatch(r.Context(), p, domain.ScopeFor(p.ID))
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Fraud detection failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Fraud detection failed")
		return
	}

	seconds := res.Duration.Seconds()
	msg := "No pending transactions to process."
	if res.Processed > 0 {
		msg = fmt.Sprintf("Detection complete. Processed %d transactions (%d fraud, %d approved) in %.3fs.",
			res.Processed, res.Flagged, res.Approved, seconds)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":                 "success",
		"message":                msg,
		"transactions_processed": res.Processed,
		"fraud_detected":         res.Flagged,
		"approved_count":         res.Approved,
		"duration_seconds":       seconds,
	})
}

// Score handles POST /api/v1/fraud/score. The optional body
// {"transaction_ids": [...]} selects transactions; without it the caller's
// pending transactions are scored.
func (h *FraudHandler) Score(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req struct {
		TransactionIDs []uint64 `json:"transaction_ids"`
	}
	if err := decodeOptional(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.scorer.Score(r.Context(), p, req.TransactionIDs)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Fraud scoring failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Fraud scoring failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// Cleanse handles POST /api/v1/cleansing/run
func (h *FraudHandler) Cleanse(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	res, err := h.cleanser.Run(r.Context(), p)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Data cleansing failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Data cleansing failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "success",
		"total_processed":    res.Processed,
		"duplicates_removed": res.DuplicatesRemoved,
		"records_normalized": res.RecordsNormalized,
		"duration_seconds":   res.Duration.Seconds(),
	})
}
