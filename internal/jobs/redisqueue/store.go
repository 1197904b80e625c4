// Package redisqueue is a Redis-backed job queue and job store, for
// deployments running more than one worker process.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/securepath/internal/jobs"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "securepath:jobs:"

// Store is a JobStore keeping each job as a JSON value plus a sorted index by
// creation time.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore creates a Store. An empty prefix uses DefaultPrefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }
func (s *Store) indexKey() string        { return s.prefix + "index" }

// SaveJob implements jobs.JobStore.
func (s *Store) SaveJob(ctx context.Context, job *jobs.Job) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redisqueue.SaveJob: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(job.JobID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.JobID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisqueue.SaveJob: %w", err)
	}
	return nil
}

// GetJob implements jobs.JobStore.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	data, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("redisqueue.GetJob: %w", err)
	}
	var job jobs.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("redisqueue.GetJob: decoding %s: %w", jobID, err)
	}
	return &job, nil
}

// ListJobs implements jobs.JobStore, newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.Job, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue.ListJobs: %w", err)
	}
	if len(ids) == 0 {
		return []*jobs.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue.ListJobs: %w", err)
	}

	result := []*jobs.Job{}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var job jobs.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		if filter.Match(&job) {
			result = append(result, &job)
		}
	}
	return filter.Paginate(result), nil
}

// UpdateJobStatus implements jobs.JobStore.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	return s.SaveJob(ctx, job)
}

var _ jobs.JobStore = (*Store)(nil)
