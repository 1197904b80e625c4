// Package worker executes background jobs.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/securepath/internal/domain"
	"github.com/dvloznov/securepath/internal/ingest"
	"github.com/dvloznov/securepath/internal/jobs"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/dvloznov/securepath/internal/metrics"
	"github.com/dvloznov/securepath/internal/pipeline"
	"github.com/dvloznov/securepath/internal/triage"
)

// Executor runs the upload ingestion pipeline.
type Executor interface {
	Execute(ctx context.Context, state *pipeline.PipelineState) error
}

// BatchRunner runs batch triage.
type BatchRunner interface {
	RunBatch(ctx context.Context, principal domain.Principal, scope domain.Scope) (*triage.BatchResult, error)
}

// Handler dispatches jobs by type.
type Handler struct {
	uploads Executor
	batch   BatchRunner
}

// NewHandler creates a Handler.
func NewHandler(uploads Executor, batch BatchRunner) *Handler {
	return &Handler{uploads: uploads, batch: batch}
}

// Handle is a jobs.JobHandler. Errors that a retry cannot fix are wrapped
// with jobs.Permanent.
func (h *Handler) Handle(ctx context.Context, job *jobs.Job) error {
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"job_id":    job.JobID,
		"job_type":  string(job.Type),
		"principal": job.Principal,
	})
	ctx = logger.WithContext(ctx, log)

	if job.Principal == "" {
		return jobs.Permanent(errors.New("job has no principal"))
	}

	log.Info().Int("attempt", job.RetryCount+1).Msg("Processing job")

	var err error
	switch job.Type {
	case jobs.JobTypeIngestUpload:
		err = h.ingestUpload(ctx, job)
	case jobs.JobTypeRunBatch:
		err = h.runBatch(ctx, job)
	default:
		err = jobs.Permanent(fmt.Errorf("unknown job type %q", job.Type))
	}
	if err != nil {
		log.Error().Err(err).Msg("Job execution failed")
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "error").Inc()
		return classify(err)
	}

	log.Info().Str("result", job.Result).Msg("Job completed")
	metrics.JobsProcessed.WithLabelValues(string(job.Type), "ok").Inc()
	return nil
}

func (h *Handler) ingestUpload(ctx context.Context, job *jobs.Job) error {
	if h.uploads == nil {
		return jobs.Permanent(errors.New("upload ingestion is not configured"))
	}
	state := &pipeline.PipelineState{
		Principal:   domain.Principal{ID: job.Principal},
		ObjectURI:   job.ObjectURI,
		FileName:    job.FileName,
		ContentType: job.ContentType,
		IngestedAt:  job.CreatedAt,
	}
	if err := h.uploads.Execute(ctx, state); err != nil {
		return err
	}
	res := state.Result
	job.Result = fmt.Sprintf("Processed %d rows. Added %d new transaction records. Skipped %d rows. Ignored %d duplicates.",
		res.ReadCount, res.InsertedCount, res.SkippedCount, res.DuplicateCount)
	return nil
}

func (h *Handler) runBatch(ctx context.Context, job *jobs.Job) error {
	if h.batch == nil {
		return jobs.Permanent(errors.New("batch triage is not configured"))
	}
	scope := domain.ScopeFor(job.Principal)
	if job.Global {
		scope = domain.GlobalScope()
	}
	res, err := h.batch.RunBatch(ctx, domain.Principal{ID: job.Principal}, scope)
	if err != nil {
		return err
	}
	job.Result = fmt.Sprintf("Processed %d transactions. Detected %d fraud attempts. Approved %d transactions.",
		res.Processed, res.Flagged, res.Approved)
	return nil
}

// classify marks input errors permanent. Storage and network errors stay
// retryable; deduplication keeps a retried ingest idempotent.
func classify(err error) error {
	switch {
	case errors.Is(err, ingest.ErrMalformedInput),
		errors.Is(err, ingest.ErrTooManyRows),
		errors.Is(err, ingest.ErrPayloadTooLarge),
		errors.Is(err, pipeline.ErrUnsupportedFormat):
		return jobs.Permanent(err)
	}
	return err
}
