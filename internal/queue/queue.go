// Package queue is a durable, at-least-once job queue backed by PostgreSQL.
//
// Enqueue dedups on a stable job key over waiting and active entries. Claimed
// jobs carry a lease; a worker that crashes before acknowledging lets the
// lease expire and the job is redelivered. Failed attempts retry with
// exponential backoff up to a fixed maximum, then the job lands in a terminal
// failed state. Completed jobs are deleted immediately; a bounded tail of
// failed jobs is retained for inspection.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"
)

// Defaults mirror the queue policy: 3 attempts, exponential backoff from 2s,
// keep the last 10 failed jobs.
const (
	DefaultMaxAttempts     = 3
	DefaultBackoffBase     = 2 * time.Second
	DefaultFailedRetention = 10
)

// PgxPool is the subset of a pgx pool the queue needs. It is implemented by
// *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Job is one claimed queue entry.
type Job struct {
	ID          int64
	Key         string
	Payload     []byte
	Attempts    int
	MaxAttempts int
}

// Stats are the queue counters by state.
type Stats struct {
	Waiting int `json:"waiting"`
	Active  int `json:"active"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// Options tune the queue policy. Zero values fall back to the defaults above.
type Options struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	FailedRetention int
	// Lease is how long a claimed job stays invisible before it is considered
	// abandoned and redelivered.
	Lease time.Duration
	// PollInterval is how long an idle consumer sleeps between claims.
	PollInterval time.Duration
}

// Queue is a PostgreSQL-backed job queue.
type Queue struct {
	pool   PgxPool
	opts   Options
	logger *slog.Logger
}

// New constructs a queue over the given pool.
func New(pool PgxPool, opts Options, logger *slog.Logger) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.FailedRetention <= 0 {
		opts.FailedRetention = DefaultFailedRetention
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Queue{pool: pool, opts: opts, logger: logger}
}

// Enqueue adds a job unless one with the same key is already waiting or
// active. It reports whether a new entry was created.
func (q *Queue) Enqueue(ctx context.Context, key string, payload any) (bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal job payload: %w", err)
	}
	const sql = `
INSERT INTO sync_jobs (job_key, payload, status, max_attempts, run_at)
VALUES ($1, $2, 'pending', $3, now())
ON CONFLICT (job_key) WHERE status IN ('pending','active') DO NOTHING`
	tag, err := q.pool.Exec(ctx, sql, key, raw, q.opts.MaxAttempts)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Stats returns queue counters by state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	const sql = `
SELECT
  count(*) FILTER (WHERE status='pending') AS waiting,
  count(*) FILTER (WHERE status='active')  AS active,
  count(*) FILTER (WHERE status='failed')  AS failed
FROM sync_jobs`
	var s Stats
	if err := q.pool.QueryRow(ctx, sql).Scan(&s.Waiting, &s.Active, &s.Failed); err != nil {
		return Stats{}, err
	}
	s.Total = s.Waiting + s.Active
	return s, nil
}

// dequeue claims the next runnable job: a pending entry whose run_at has
// passed, or an active entry whose lease expired (crash redelivery).
// Returns nil when no job is available.
func (q *Queue) dequeue(ctx context.Context) (*Job, error) {
	const sql = `
UPDATE sync_jobs
SET status='active', locked_at=now(), attempts=attempts+1, updated_at=now()
WHERE id = (
  SELECT id FROM sync_jobs
  WHERE (status='pending' AND run_at <= now())
     OR (status='active' AND locked_at <= now() - make_interval(secs => $1))
  ORDER BY run_at
  FOR UPDATE SKIP LOCKED
  LIMIT 1)
RETURNING id, job_key, payload, attempts, max_attempts`
	var j Job
	err := q.pool.QueryRow(ctx, sql, q.opts.Lease.Seconds()).
		Scan(&j.ID, &j.Key, &j.Payload, &j.Attempts, &j.MaxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// complete acknowledges a job; completed entries are not retained.
func (q *Queue) complete(ctx context.Context, job Job) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM sync_jobs WHERE id=$1`, job.ID)
	return err
}

// fail records a failed attempt. Terminal failures (attempts exhausted or a
// permanent error) mark the row failed and prune old failed rows; otherwise
// the job is rescheduled with exponential backoff. Reports whether the
// failure was terminal.
func (q *Queue) fail(ctx context.Context, job Job, cause error) (bool, error) {
	if IsPermanent(cause) || job.Attempts >= job.MaxAttempts {
		const sql = `
UPDATE sync_jobs SET status='failed', last_error=$2, locked_at=NULL, updated_at=now()
WHERE id=$1`
		if _, err := q.pool.Exec(ctx, sql, job.ID, cause.Error()); err != nil {
			return true, err
		}
		return true, q.pruneFailed(ctx)
	}

	const sql = `
UPDATE sync_jobs
SET status='pending', last_error=$2, locked_at=NULL, run_at=now() + make_interval(secs => $3), updated_at=now()
WHERE id=$1`
	delay := q.backoff(job.Attempts)
	_, err := q.pool.Exec(ctx, sql, job.ID, cause.Error(), delay.Seconds())
	return false, err
}

// backoff returns the delay before the next attempt: base * 2^(attempt-1).
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// pruneFailed keeps only the most recent failed entries.
func (q *Queue) pruneFailed(ctx context.Context) error {
	const sql = `
DELETE FROM sync_jobs
WHERE status='failed' AND id NOT IN (
  SELECT id FROM sync_jobs WHERE status='failed' ORDER BY updated_at DESC LIMIT $1)`
	_, err := q.pool.Exec(ctx, sql, q.opts.FailedRetention)
	return err
}

// Handler executes one job and returns its result.
type Handler func(ctx context.Context, job Job) (any, error)

// Consumer registers the handler plus completion hooks, mirroring the
// worker-event registration of the queue this replaces. OnFailed fires only
// when a job reaches its terminal failed state, never per attempt.
type Consumer struct {
	Handler     Handler
	OnCompleted func(ctx context.Context, job Job, result any)
	OnFailed    func(ctx context.Context, job Job, cause error)
	Concurrency int
}

// Consume runs the consumer until the context is cancelled. Each of the
// Concurrency pollers claims and processes one job at a time.
func (q *Queue) Consume(ctx context.Context, c Consumer) error {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	q.logger.Info("Starting queue consumers", "concurrency", c.Concurrency, "poll_interval", q.opts.PollInterval.String())

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.Concurrency; i++ {
		g.Go(func() error {
			return q.consumeLoop(gctx, c)
		})
	}
	return g.Wait()
}

func (q *Queue) consumeLoop(ctx context.Context, c Consumer) error {
	for {
		job, err := q.dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Error("Failed to claim job", "error", err)
		}
		if job == nil || err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.opts.PollInterval):
			}
			continue
		}
		q.process(ctx, c, *job)
	}
}

func (q *Queue) process(ctx context.Context, c Consumer, job Job) {
	logger := q.logger.With("job_id", job.ID, "job_key", job.Key, "attempt", job.Attempts)

	result, err := q.run(ctx, c.Handler, job)
	if err == nil {
		if cerr := q.complete(ctx, job); cerr != nil {
			// The job ran to completion; a redelivery will be a no-op thanks
			// to the handler's idempotence.
			logger.Error("Failed to acknowledge completed job", "error", cerr)
		}
		logger.Info("Job completed")
		if c.OnCompleted != nil {
			c.OnCompleted(ctx, job, result)
		}
		return
	}

	terminal, ferr := q.fail(ctx, job, err)
	if ferr != nil {
		logger.Error("Failed to record job failure", "error", ferr)
	}
	if terminal {
		logger.Error("Job failed permanently", "error", err)
		if c.OnFailed != nil {
			c.OnFailed(ctx, job, err)
		}
		return
	}
	logger.Warn("Job failed, will retry", "error", err, "next_delay", q.backoff(job.Attempts).String())
}

// run invokes the handler, converting a panic into an ordinary failure so one
// bad job cannot take down the consumer pool.
func (q *Queue) run(ctx context.Context, h Handler, job Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
