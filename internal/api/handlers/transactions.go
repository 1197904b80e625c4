package handlers

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dvloznov/securepath/internal/api/middleware"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/ingest"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/store"
)

// multipartSlack covers multipart framing around the file part.
const multipartSlack = 1 << 20

// Ingester ingests an uploaded CSV document.
type Ingester interface {
	IngestCSV(ctx context.Context, r io.Reader, p domain.Principal, name string) (*ingest.Result, error)
	Limits() ingest.Limits
}

// TransactionReader serves the dashboard.
type TransactionReader interface {
	ListTransactions(ctx context.Context, f store.TransactionFilter, page domain.Page) ([]domain.Transaction, int64, error)
	Stats(ctx context.Context, userID string) (domain.Stats, error)
}

// TransactionsHandler handles transaction upload and dashboard endpoints.
type TransactionsHandler struct {
	ingester       Ingester
	reader         TransactionReader
	async          *UploadsHandler
	asyncThreshold int64
}

// NewTransactionsHandler creates a new transactions handler. When async is
// set, uploads whose Content-Length reaches asyncThreshold are queued instead
// of ingested inline.
func NewTransactionsHandler(ingester Ingester, reader TransactionReader, async *UploadsHandler, asyncThreshold int64) *TransactionsHandler {
	return &TransactionsHandler{
		ingester:       ingester,
		reader:         reader,
		async:          async,
		asyncThreshold: asyncThreshold,
	}
}

// Upload handles POST /api/v1/transactions/upload
func (h *TransactionsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if h.async != nil && h.asyncThreshold > 0 && r.ContentLength >= h.asyncThreshold {
		h.async.Enqueue(w, r)
		return
	}

	ctx := r.Context()
	log := logger.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.ingester.Limits().MaxPayloadBytes+multipartSlack)
	file, name, _, err := uploadedFile(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.ingester.IngestCSV(ctx, file, p, name)
	if err != nil {
		status, msg := ingestStatus(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("file", name).Msg("Upload failed")
		} else {
			log.Warn().Err(err).Str("file", name).Msg("Upload rejected")
		}
		middleware.WriteError(w, status, msg)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":        fmt.Sprintf("File processed. %d new records added!", res.InsertedCount),
		"rows":           res.InsertedCount,
		"total_rows":     res.ReadCount,
		"skipped_rows":   res.SkippedCount,
		"duplicate_rows": res.DuplicateCount,
		"batch_id":       res.BatchID,
		"created_ids":    res.CreatedIDs,
		"warnings":       len(res.Warnings),
	})
}

// ListTransactions handles GET /api/v1/dashboard/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	filter := store.TransactionFilter{UserID: p.ID}
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.Status(strings.ToLower(s))
		if !status.Valid() {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filter.Status = status
	}
	page := pageFrom(r)

	txs, total, err := h.reader.ListTransactions(r.Context(), filter, page)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"total":        total,
		"page":         page.Number,
		"page_size":    page.Size,
		"total_pages":  pageCount(total, page.Size),
	})
}

// Stats handles GET /api/v1/dashboard/stats
func (h *TransactionsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	st, err := h.reader.Stats(r.Context(), p.ID)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to load stats")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load stats")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}

// uploadedFile returns the "file" part of a multipart request, or the raw
// body with the name taken from the filename query parameter.
func uploadedFile(r *http.Request) (io.Reader, string, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		name := filepath.Base(r.URL.Query().Get("filename"))
		if name == "." || name == "/" {
			name = "upload.csv"
		}
		return r.Body, name, mediaType, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", "", fmt.Errorf("invalid multipart body")
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, "", "", fmt.Errorf("file is required")
		}
		if err != nil {
			return nil, "", "", fmt.Errorf("invalid multipart body")
		}
		if part.FormName() != "file" {
			continue
		}
		return part, partName(part), part.Header.Get("Content-Type"), nil
	}
}

func partName(part *multipart.Part) string {
	name := filepath.Base(part.FileName())
	if name == "." || name == "/" || name == "" {
		return "upload.csv"
	}
	return name
}
