// Package jobs provides the durable background queue behind tool execution
// and continuation resumption, plus the cron janitor that expires stale
// approvals and prunes finished jobs.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jobdeck/jobdeck/internal/observability"
)

// JobKind names the work a job carries.
type JobKind string

const (
	KindRunTool        JobKind = "run_tool"
	KindResumeFollowup JobKind = "resume_followup"
)

// Job statuses. Queued jobs with run_at in the past are claimable; running
// jobs belong to a worker; done and failed are terminal.
const (
	jobQueued  = "queued"
	jobRunning = "running"
	jobDone    = "done"
	jobFailed  = "failed"
)

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	payload      TEXT NOT NULL,
	status       TEXT NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	run_at       INTEGER NOT NULL,
	last_error   TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, run_at);
`

// Queue is a SQLite-backed at-least-once job queue. Delivery guarantees are
// deliberately weak in one direction only: a job may run more than once
// after a crash, never zero times, which is why every handler downstream is
// idempotent.
type Queue struct {
	db          *sql.DB
	logger      *observability.Logger
	metrics     *observability.Metrics
	maxAttempts int

	// retryBase is doubled per attempt for the retry delay.
	retryBase time.Duration
}

// QueueConfig tunes the queue.
type QueueConfig struct {
	MaxAttempts int
	RetryBase   time.Duration
}

// NewQueue creates the queue and its schema on the shared database handle.
func NewQueue(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics, cfg QueueConfig) (*Queue, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if _, err := db.Exec(jobsSchema); err != nil {
		return nil, fmt.Errorf("create jobs schema: %w", err)
	}
	return &Queue{
		db:          db,
		logger:      logger,
		metrics:     metrics,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
	}, nil
}

// Enqueue schedules a job for immediate execution.
func (q *Queue) Enqueue(ctx context.Context, kind JobKind, payload string) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, payload, status, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		uuid.NewString(), string(kind), payload, jobQueued, q.maxAttempts, now, now, now)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}

// EnqueueRunTool schedules execution of one queued tool execution.
func (q *Queue) EnqueueRunTool(ctx context.Context, executionID string) error {
	return q.Enqueue(ctx, KindRunTool, executionID)
}

// EnqueueResumeFollowup schedules the continuation check for an assistant
// message.
func (q *Queue) EnqueueResumeFollowup(ctx context.Context, messageID string) error {
	return q.Enqueue(ctx, KindResumeFollowup, messageID)
}

// job is one claimed row.
type job struct {
	ID       string
	Kind     JobKind
	Payload  string
	Attempts int
	MaxAttempts int
}

// claim atomically takes the oldest runnable job. Returns nil with no error
// when the queue is empty.
func (q *Queue) claim(ctx context.Context) (*job, error) {
	now := time.Now().UnixMilli()
	row := q.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND run_at <= ?
			ORDER BY run_at ASC LIMIT 1
		)
		RETURNING id, kind, payload, attempts, max_attempts`,
		jobRunning, now, jobQueued, now)

	var j job
	var kind string
	if err := row.Scan(&j.ID, &kind, &j.Payload, &j.Attempts, &j.MaxAttempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	j.Kind = JobKind(kind)
	return &j, nil
}

// finish marks a claimed job done.
func (q *Queue) finish(ctx context.Context, j *job) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		jobDone, time.Now().UnixMilli(), j.ID)
	return err
}

// retry requeues a failed job with exponential backoff, or fails it
// permanently once attempts are exhausted.
func (q *Queue) retry(ctx context.Context, j *job, cause error) error {
	attempts := j.Attempts + 1
	now := time.Now()

	if attempts >= j.MaxAttempts {
		q.logger.Error(ctx, "job failed permanently",
			"job_id", j.ID, "kind", string(j.Kind), "attempts", attempts, "error", cause)
		_, err := q.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			jobFailed, attempts, cause.Error(), now.UnixMilli(), j.ID)
		return err
	}

	delay := q.retryBase << (attempts - 1)
	q.logger.Warn(ctx, "job failed, retrying",
		"job_id", j.ID, "kind", string(j.Kind), "attempts", attempts,
		"retry_in", delay.String(), "error", cause)
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_at = ?, updated_at = ? WHERE id = ?`,
		jobQueued, attempts, cause.Error(), now.Add(delay).UnixMilli(), now.UnixMilli(), j.ID)
	return err
}

// prune deletes terminal jobs older than the retention window.
func (q *Queue) prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND updated_at < ?`,
		jobDone, jobFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// requeueOrphans returns crashed-worker jobs to the queue. Called once at
// startup, before workers start, when no job can legitimately be running.
func (q *Queue) requeueOrphans(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		jobQueued, time.Now().UnixMilli(), jobRunning)
	if err != nil {
		return 0, fmt.Errorf("requeue orphans: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
