package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dvloznov/securepath/internal/aggregator"
	"github.com/dvloznov/securepath/internal/api/middleware"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/ingest"
	"github.com/dvloznov/securepath/internal/logger"
)

// LinkClient creates and exchanges aggregator link tokens.
type LinkClient interface {
	CreateLinkToken(ctx context.Context, userID string) (string, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (string, error)
}

// AccountSyncer imports recent aggregator transactions.
type AccountSyncer interface {
	Sync(ctx context.Context, p domain.Principal, accessToken string) (*ingest.Result, error)
}

// PlaidHandler handles the aggregator endpoints. Both dependencies are nil
// when Plaid is not configured.
type PlaidHandler struct {
	client LinkClient
	syncer AccountSyncer
}

// NewPlaidHandler creates a new Plaid handler.
func NewPlaidHandler(client LinkClient, syncer AccountSyncer) *PlaidHandler {
	return &PlaidHandler{client: client, syncer: syncer}
}

func (h *PlaidHandler) configured(w http.ResponseWriter) bool {
	if h.client == nil || h.syncer == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, aggregator.ErrNotConfigured.Error())
		return false
	}
	return true
}

// aggregatorStatus maps aggregator failures to a client response.
func aggregatorStatus(err error) (int, string) {
	var apiErr *aggregator.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway, fmt.Sprintf("Plaid error %s: %s", apiErr.ErrorCode, apiErr.ErrorMessage)
	}
	return http.StatusBadGateway, "Plaid request failed"
}

// CreateLinkToken handles POST /api/v1/plaid/link-token
func (h *PlaidHandler) CreateLinkToken(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok || !h.configured(w) {
		return
	}

	token, err := h.client.CreateLinkToken(r.Context(), p.ID)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Plaid link token creation failed")
		status, msg := aggregatorStatus(err)
		middleware.WriteError(w, status, msg)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"link_token": token})
}

// ExchangePublicToken handles POST /api/v1/plaid/exchange
func (h *PlaidHandler) ExchangePublicToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(w, r); !ok || !h.configured(w) {
		return
	}

	var req struct {
		PublicToken string `json:"public_token"`
	}
	if err := decodeOptional(r, &req); err != nil || req.PublicToken == "" {
		middleware.WriteError(w, http.StatusBadRequest, "public_token is required")
		return
	}

	accessToken, err := h.client.ExchangePublicToken(r.Context(), req.PublicToken)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Plaid token exchange failed")
		status, msg := aggregatorStatus(err)
		middleware.WriteError(w, status, msg)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"access_token": accessToken})
}

// Sync handles POST /api/v1/plaid/sync
func (h *PlaidHandler) Sync(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok || !h.configured(w) {
		return
	}

	var req struct {
		AccessToken string `json:"access_token"`
	}
	if err := decodeOptional(r, &req); err != nil || req.AccessToken == "" {
		middleware.WriteError(w, http.StatusBadRequest, "access_token is required")
		return
	}

	res, err := h.syncer.Sync(r.Context(), p, req.AccessToken)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Plaid sync failed")
		var apiErr *aggregator.APIError
		if errors.As(err, &apiErr) {
			status, msg := aggregatorStatus(err)
			middleware.WriteError(w, status, msg)
			return
		}
		middleware.WriteError(w, http.StatusInternalServerError, "Plaid sync failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":      fmt.Sprintf("Imported %d new transactions from Plaid.", res.InsertedCount),
		"fetched":      res.ReadCount,
		"inserted":     res.InsertedCount,
		"skipped_rows": res.SkippedCount,
		"duplicates":   res.DuplicateCount,
	})
}
