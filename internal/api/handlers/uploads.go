package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/securepath/internal/api/middleware"
	"github.com/dvloznov/securepath/internal/audit"
	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/jobs"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/uploads"
	"github.com/google/uuid"
)

// UploadsHandler archives uploads and queues them for background ingestion.
type UploadsHandler struct {
	archive   uploads.Archive
	publisher jobs.Publisher
	recorder  audit.Recorder
	prefix    string
	maxBytes  int64
	now       func() time.Time
}

// NewUploadsHandler creates a new uploads handler.
func NewUploadsHandler(archive uploads.Archive, publisher jobs.Publisher, recorder audit.Recorder, prefix string, maxBytes int64) *UploadsHandler {
	return &UploadsHandler{
		archive:   archive,
		publisher: publisher,
		recorder:  recorder,
		prefix:    prefix,
		maxBytes:  maxBytes,
		now:       time.Now,
	}
}

// Enqueue handles POST /api/v1/uploads
func (h *UploadsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log := logger.FromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartSlack)
	file, name, contentType, err := uploadedFile(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	object := uploads.ObjectName(h.prefix, p.ID, uuid.New().String(), name, h.now())
	uri, err := h.archive.Put(ctx, object, file, contentType)
	if err != nil {
		status, msg := ingestStatus(err)
		if status == http.StatusInternalServerError {
			msg = "Failed to store upload"
		}
		log.Error().Err(err).Str("file", name).Msg("Failed to archive upload")
		middleware.WriteError(w, status, msg)
		return
	}

	job := &jobs.Job{
		Type:        jobs.JobTypeIngestUpload,
		Principal:   p.ID,
		ObjectURI:   uri,
		FileName:    name,
		ContentType: contentType,
	}
	if err := h.publisher.Publish(ctx, job); err != nil {
		log.Error().Err(err).Str("object_uri", uri).Msg("Failed to enqueue ingest job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue upload")
		return
	}

	audit.BestEffort(ctx, h.recorder, audit.Entry(domain.ActionUploadQueued,
		fmt.Sprintf("Queued %s for background ingestion as job %s.", name, job.JobID), p))
	log.Info().Str("job_id", job.JobID).Str("object_uri", uri).Msg("Ingest job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.JobID,
		"object_uri": uri,
		"status":     string(job.Status),
	})
}
