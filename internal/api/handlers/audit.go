package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dvloznov/securepath/internal/api/middleware"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/logger"
)

// AuditLister pages through one principal's audit log.
type AuditLister interface {
	List(ctx context.Context, principal string, page domain.Page) ([]domain.AuditEntry, int64, error)
}

// CSVExporter writes the caller's transaction report.
type CSVExporter interface {
	ExportCSV(ctx context.Context, w io.Writer, p domain.Principal) (int, error)
}

// ReportsHandler handles the audit log and report endpoints.
type ReportsHandler struct {
	audit    AuditLister
	exporter CSVExporter
	now      func() time.Time
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(audit AuditLister, exporter CSVExporter) *ReportsHandler {
	return &ReportsHandler{audit: audit, exporter: exporter, now: time.Now}
}

// AuditLog handles GET /api/v1/audit-log
func (h *ReportsHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	page := pageFrom(r)

	entries, total, err := h.audit.List(r.Context(), p.ID, page)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list audit log")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"logs":        entries,
		"total":       total,
		"page":        page.Number,
		"page_size":   page.Size,
		"total_pages": pageCount(total, page.Size),
	})
}

// ExportCSV handles GET /api/v1/reports/export.csv
func (h *ReportsHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context())

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="transactions_report_%s.csv"`, h.now().UTC().Format("20060102_150405")))

	cw := &countingWriter{w: w}
	n, err := h.exporter.ExportCSV(r.Context(), cw, p)
	if err != nil {
		log.Error().Err(err).Int64("bytes_written", cw.n).Msg("CSV export failed")
		if cw.n == 0 {
			w.Header().Del("Content-Disposition")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to export report")
		}
		return
	}
	log.Info().Int("transactions", n).Msg("CSV report exported")
}

// countingWriter tracks whether any of the response has been sent.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
