package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeIngestUpload ingests an archived upload.
	JobTypeIngestUpload JobType = "ingest_upload"

	// JobTypeRunBatch runs batch triage.
	JobTypeRunBatch JobType = "run_batch"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// DefaultMaxRetries applies when a published job leaves MaxRetries unset.
const DefaultMaxRetries = 3

// ErrJobNotFound is returned by JobStore lookups for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueClosed is returned when publishing to a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// ErrPermanent marks handler errors that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the job fails without further retries.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Job is one unit of background work.
type Job struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	Type JobType `json:"type"`

	// Principal is the user the job acts for.
	Principal string `json:"principal"`

	// ObjectURI is the archived upload location (gs://bucket/object) for
	// ingest_upload jobs.
	ObjectURI string `json:"object_uri,omitempty"`

	// FileName is the original upload name.
	FileName string `json:"file_name,omitempty"`

	// ContentType of the upload, used to pick the row extractor.
	ContentType string `json:"content_type,omitempty"`

	// Global widens a run_batch job to every principal.
	Global bool `json:"global,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// Result is a short human readable outcome.
	Result string `json:"result,omitempty"`

	// CreatedAt is when the job was created.
	CreatedAt time.Time `json:"created_at"`

	// StartedAt is when the job started processing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the job completed (success or failure).
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`

	// RetryCount is the number of times this job has been retried.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the maximum number of retries allowed.
	MaxRetries int `json:"max_retries"`
}

// Prepare fills the defaults of a job about to be published.
func (j *Job) Prepare(id string, now time.Time) {
	if j.JobID == "" {
		j.JobID = id
	}
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = DefaultMaxRetries
	}
}

// Begin marks the job running.
func (j *Job) Begin(now time.Time) {
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.CompletedAt = nil
}

// Finish records the handler outcome and reports whether the job should be
// retried.
func (j *Job) Finish(err error, now time.Time) bool {
	j.CompletedAt = &now
	if err == nil {
		j.Status = JobStatusCompleted
		j.Error = ""
		return false
	}

	j.Error = err.Error()
	if j.RetryCount < j.MaxRetries && !errors.Is(err, ErrPermanent) {
		j.RetryCount++
		j.Status = JobStatusRetrying
		return true
	}
	j.Status = JobStatusFailed
	return false
}

// Reset prepares a retrying job to be queued again.
func (j *Job) Reset() {
	j.Status = JobStatusPending
	j.StartedAt = nil
	j.CompletedAt = nil
}

// Backoff is the delay before the given retry attempt. It grows linearly.
func Backoff(retry int) time.Duration {
	return time.Duration(retry) * time.Second
}

// Publisher defines the interface for publishing jobs to a queue.
type Publisher interface {
	// Publish enqueues a job, assigning its id and defaults.
	Publish(ctx context.Context, job *Job) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler is a function that processes a job.
// It should return an error if the job failed and should be retried.
type JobHandler func(ctx context.Context, job *Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Principal filters jobs by owner.
	Principal string

	Type JobType

	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// Match reports whether job passes the filter's predicates. Limit and Offset
// are applied by the caller.
func (f JobFilter) Match(job *Job) bool {
	if f.Principal != "" && job.Principal != f.Principal {
		return false
	}
	if f.Type != "" && job.Type != f.Type {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	return true
}

// Paginate applies Offset and Limit to an already filtered, ordered slice.
func (f JobFilter) Paginate(list []*Job) []*Job {
	if f.Offset > 0 {
		if f.Offset >= len(list) {
			return []*Job{}
		}
		list = list[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(list) {
		list = list[:f.Limit]
	}
	return list
}
