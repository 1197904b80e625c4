// Package handlers implements the HTTP endpoints of the API server. Every
// handler under /api/v1 expects middleware.Auth to have stored the caller.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/securepath/internal/api/middleware"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/ingest"
	"github.com/dvloznov/securepath/internal/logger"
)

// principal returns the authenticated caller or writes a 401.
func principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Authentication required")
	}
	return p, ok
}

// pageFrom reads page and page_size, clamped by domain.NewPage.
func pageFrom(r *http.Request) domain.Page {
	q := r.URL.Query()
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return domain.NewPage(number, size)
}

func pageCount(total int64, size int) int64 {
	if size <= 0 {
		return 0
	}
	return (total + int64(size) - 1) / int64(size)
}

// decodeOptional decodes a JSON body into v. An empty body leaves v untouched.
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ingestStatus maps ingestion errors to an HTTP status and client message.
func ingestStatus(err error) (int, string) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig), errors.Is(err, ingest.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "Upload exceeds the maximum payload size"
	case errors.Is(err, ingest.ErrTooManyRows):
		return http.StatusRequestEntityTooLarge, "Upload exceeds the maximum number of rows"
	case errors.Is(err, ingest.ErrMalformedInput):
		return http.StatusBadRequest, "Malformed CSV: " + err.Error()
	}
	return http.StatusInternalServerError, "Failed to process upload"
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	db Pinger
}

// NewHealthHandler creates a HealthHandler. db may be nil.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			log := logger.FromContext(r.Context())
			log.Warn().Err(err).Msg("Database ping failed")
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	middleware.WriteJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
