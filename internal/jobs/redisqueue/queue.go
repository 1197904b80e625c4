package redisqueue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/dvloznov/securepath/internal/jobs"
	"github.com/dvloznov/securepath/internal/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue is a jobs.Publisher and jobs.Consumer on Redis lists. Ready job ids
// live in a list; retries wait in a sorted set scored by their due time until
// the scheduler moves them back.
type Queue struct {
	client  redis.UniversalClient
	store   *Store
	workers int
	poll    time.Duration
	backoff func(int) time.Duration
	retries int

	mu        sync.RWMutex
	closed    bool
	closeChan chan struct{}
	wg        sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of concurrent workers.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithPollInterval sets how long a worker blocks waiting for work and how
// often delayed retries are promoted.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.poll = d
		}
	}
}

// WithMaxRetries sets the retry budget of jobs published without one.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.retries = n
		}
	}
}

// WithBackoff overrides jobs.Backoff.
func WithBackoff(fn func(int) time.Duration) Option {
	return func(q *Queue) { q.backoff = fn }
}

// NewQueue creates a Queue sharing keys with store.
func NewQueue(client redis.UniversalClient, store *Store, opts ...Option) *Queue {
	q := &Queue{
		client:    client,
		store:     store,
		workers:   5,
		poll:      time.Second,
		backoff:   jobs.Backoff,
		closeChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) readyKey() string   { return q.store.prefix + "ready" }
func (q *Queue) delayedKey() string { return q.store.prefix + "delayed" }

// Publish implements jobs.Publisher.
func (q *Queue) Publish(ctx context.Context, job *jobs.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return jobs.ErrQueueClosed
	}

	if job.MaxRetries == 0 {
		job.MaxRetries = q.retries
	}
	job.Prepare(uuid.New().String(), time.Now())
	if err := q.store.SaveJob(ctx, job); err != nil {
		return err
	}
	return q.client.LPush(ctx, q.readyKey(), job.JobID).Err()
}

// Start implements jobs.Consumer.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return jobs.ErrQueueClosed
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	q.wg.Add(1)
	go q.scheduler(ctx)
	return nil
}

func (q *Queue) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-q.closeChan:
		return true
	default:
		return false
	}
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()
	log := logger.FromContext(ctx)

	for !q.stopping(ctx) {
		res, err := q.client.BRPop(ctx, q.poll, q.readyKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if q.stopping(ctx) {
				return
			}
			log.Warn().Err(err).Msg("Job queue read failed")
			time.Sleep(q.poll)
			continue
		}
		// res is [key, value]
		q.processJob(ctx, res[1], handler)
	}
}

func (q *Queue) processJob(ctx context.Context, id string, handler jobs.JobHandler) {
	log := logger.FromContext(ctx)

	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Dropping unknown job")
		return
	}

	job.Begin(time.Now())
	if err := q.store.SaveJob(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Failed to save job state")
	}

	herr := handler(ctx, job)
	retry := job.Finish(herr, time.Now())
	if err := q.store.SaveJob(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Failed to save job state")
	}

	if herr != nil {
		log.Warn().Err(herr).
			Str("job_id", job.JobID).
			Str("type", string(job.Type)).
			Int("retry", job.RetryCount).
			Bool("will_retry", retry).
			Msg("Job failed")
	}
	if !retry {
		return
	}

	due := time.Now().Add(q.backoff(job.RetryCount))
	err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(due.UnixMilli()), Member: job.JobID}).Err()
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Failed to schedule retry")
	}
}

func (q *Queue) scheduler(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx, time.Now()); err != nil && !q.stopping(ctx) {
				log := logger.FromContext(ctx)
				log.Warn().Err(err).Msg("Promoting delayed jobs failed")
			}
		}
	}
}

// promoteDue moves retries due at or before now back to the ready list. ZREM
// decides ownership so concurrent schedulers never requeue a job twice.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) error {
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if job, err := q.store.GetJob(ctx, id); err == nil {
			job.Reset()
			if err := q.store.SaveJob(ctx, job); err != nil {
				log := logger.FromContext(ctx)
				log.Error().Err(err).Str("job_id", id).Msg("Failed to save job state")
			}
		}
		if err := q.client.LPush(ctx, q.readyKey(), id).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Stop implements jobs.Consumer.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements jobs.Publisher.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
