package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/querygate/querygate/internal/domain"
	"github.com/querygate/querygate/internal/metrics"
	"github.com/querygate/querygate/internal/repository"
)

var _ repository.JobQueue = (*pgJobQueue)(nil)

// Schema expected by the queue. The partial unique index is what makes the
// resource key a singleton: a second enqueue while a job is outstanding hits
// a unique violation instead of creating a duplicate.
//
//	CREATE TABLE execution_jobs (
//	    job_id          UUID PRIMARY KEY,
//	    resource_key    TEXT NOT NULL,
//	    request_id      UUID NOT NULL,
//	    approved_by     TEXT NOT NULL,
//	    state           TEXT NOT NULL DEFAULT 'queued',
//	    retry_limit     INT  NOT NULL,
//	    retry_remaining INT  NOT NULL,
//	    backoff_ms      BIGINT NOT NULL,
//	    backoff_exp     BOOLEAN NOT NULL,
//	    failure_reason  TEXT,
//	    claimed_by      TEXT,
//	    next_visible_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    expires_at      TIMESTAMPTZ NOT NULL,
//	    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE UNIQUE INDEX execution_jobs_singleton_key
//	    ON execution_jobs (resource_key)
//	    WHERE state IN ('queued', 'active');
//
//	CREATE TABLE execution_jobs_archive (LIKE execution_jobs INCLUDING ALL);

const uniqueViolation = "23505"

// claimLease is how long a claimed job stays invisible before the sweep
// hands it back to the queue (crashed worker recovery).
const claimLease = 10 * time.Minute

// archiveRetention is how long terminal jobs stay in the hot table.
const archiveRetention = 24 * time.Hour

type pgJobQueue struct {
	pool     *pgxpool.Pool
	workerID string
	logger   *zap.Logger
}

// NewJobQueue creates a Postgres-backed durable job queue. workerID
// identifies this process in claimed_by for crash forensics.
func NewJobQueue(pool *pgxpool.Pool, workerID string, logger *zap.Logger) repository.JobQueue {
	return &pgJobQueue{pool: pool, workerID: workerID, logger: logger}
}

func (q *pgJobQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO execution_jobs
			(job_id, resource_key, request_id, approved_by, state,
			 retry_limit, retry_remaining, backoff_ms, backoff_exp,
			 next_visible_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'queued', $5, $5, $6, $7, now(), $8, $9, $9)`

	now := time.Now().UTC()
	_, err := q.pool.Exec(ctx, query,
		job.JobID, job.ResourceKey, job.RequestID, job.ApprovedBy,
		job.Policy.RetryLimit, job.Policy.Backoff.Milliseconds(), job.Policy.ExponentialBackoff,
		now.Add(job.Policy.Expiry), now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateJob
		}
		return fmt.Errorf("postgres: enqueue job: %w", err)
	}

	metrics.JobsEnqueued.Inc()
	q.logger.Info("Job enqueued",
		zap.String("job_id", job.JobID.String()),
		zap.String("resource_key", job.ResourceKey),
		zap.String("request_id", job.RequestID.String()),
	)
	return nil
}

func (q *pgJobQueue) Claim(ctx context.Context) (*domain.Job, error) {
	query := `
		UPDATE execution_jobs SET
			state = 'active',
			claimed_by = $1,
			next_visible_at = now() + $2,
			updated_at = now()
		WHERE job_id = (
			SELECT job_id FROM execution_jobs
			WHERE state = 'queued' AND next_visible_at <= now() AND expires_at > now()
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id, resource_key, request_id, approved_by, state,
		          retry_limit, retry_remaining, backoff_ms, backoff_exp,
		          created_at, expires_at`

	row := q.pool.QueryRow(ctx, query, q.workerID, claimLease)

	var job domain.Job
	var backoffMs int64
	var retryLimit int
	err := row.Scan(
		&job.JobID, &job.ResourceKey, &job.RequestID, &job.ApprovedBy, &job.State,
		&retryLimit, &job.RetryRemaining, &backoffMs, &job.Policy.ExponentialBackoff,
		&job.CreatedAt, &job.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: claim job: %w", err)
	}

	job.Policy.RetryLimit = retryLimit
	job.Policy.Backoff = time.Duration(backoffMs) * time.Millisecond
	job.Policy.Expiry = job.ExpiresAt.Sub(job.CreatedAt)
	return &job, nil
}

func (q *pgJobQueue) Complete(ctx context.Context, jobID uuid.UUID) error {
	query := `
		UPDATE execution_jobs
		SET state = 'completed', updated_at = now()
		WHERE job_id = $1 AND state = 'active'`

	tag, err := q.pool.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("postgres: complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: complete job: %s is not active", jobID)
	}
	q.logger.Info("Job completed", zap.String("job_id", jobID.String()))
	return nil
}

// Fail re-queues the job with its next backoff delay while retries remain;
// otherwise the job is terminally failed. Jobs past their absolute expiry
// are expired regardless of retries remaining.
func (q *pgJobQueue) Fail(ctx context.Context, jobID uuid.UUID, reason string) (domain.JobState, error) {
	query := `
		UPDATE execution_jobs SET
			state = CASE
				WHEN expires_at <= now() THEN 'expired'
				WHEN retry_remaining > 0 THEN 'queued'
				ELSE 'failed'
			END,
			next_visible_at = CASE
				WHEN expires_at > now() AND retry_remaining > 0 THEN
					now() + make_interval(secs =>
						backoff_ms / 1000.0 *
						CASE WHEN backoff_exp
							THEN power(2, retry_limit - retry_remaining)
							ELSE 1
						END)
				ELSE next_visible_at
			END,
			retry_remaining = greatest(retry_remaining - 1, 0),
			failure_reason = $2,
			claimed_by = NULL,
			updated_at = now()
		WHERE job_id = $1 AND state = 'active'
		RETURNING state, retry_remaining`

	var state domain.JobState
	var remaining int
	err := q.pool.QueryRow(ctx, query, jobID, reason).Scan(&state, &remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: fail job: %s is not active", jobID)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: fail job: %w", err)
	}

	metrics.JobRetries.Inc()
	q.logger.Warn("Job failed",
		zap.String("job_id", jobID.String()),
		zap.String("reason", reason),
		zap.String("state", string(state)),
		zap.Int("retries_remaining", remaining),
	)
	return state, nil
}

func (q *pgJobQueue) Sweep(ctx context.Context) ([]*domain.Job, error) {
	// Hand crashed claims back to the queue once their lease lapses.
	reclaimed, err := q.pool.Exec(ctx, `
		UPDATE execution_jobs SET
			state = 'queued', claimed_by = NULL, next_visible_at = now(), updated_at = now()
		WHERE state = 'active' AND next_visible_at <= now()`)
	if err != nil {
		return nil, fmt.Errorf("postgres: sweep reclaim: %w", err)
	}

	// Abandon anything past its absolute expiry. The expired jobs come back
	// to the caller so the owning requests get a terminal outcome too.
	rows, err := q.pool.Query(ctx, `
		UPDATE execution_jobs SET
			state = 'expired', claimed_by = NULL, updated_at = now()
		WHERE state IN ('queued', 'active') AND expires_at <= now()
		RETURNING job_id, resource_key, request_id, approved_by`)
	if err != nil {
		return nil, fmt.Errorf("postgres: sweep expire: %w", err)
	}
	var expired []*domain.Job
	for rows.Next() {
		var job domain.Job
		if err := rows.Scan(&job.JobID, &job.ResourceKey, &job.RequestID, &job.ApprovedBy); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: sweep expire scan: %w", err)
		}
		job.State = domain.JobExpired
		expired = append(expired, &job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: sweep expire: %w", err)
	}

	// Move aged-out terminal jobs to the archive, keeping the hot table and
	// its singleton index small.
	archived, err := q.pool.Exec(ctx, `
		WITH moved AS (
			DELETE FROM execution_jobs
			WHERE state IN ('completed', 'failed', 'expired')
			  AND updated_at <= now() - $1::interval
			RETURNING *
		)
		INSERT INTO execution_jobs_archive SELECT * FROM moved`,
		archiveRetention)
	if err != nil {
		return nil, fmt.Errorf("postgres: sweep archive: %w", err)
	}

	if n := reclaimed.RowsAffected() + int64(len(expired)) + archived.RowsAffected(); n > 0 {
		q.logger.Info("Queue sweep",
			zap.Int64("reclaimed", reclaimed.RowsAffected()),
			zap.Int("expired", len(expired)),
			zap.Int64("archived", archived.RowsAffected()),
		)
	}
	metrics.SweepRuns.Inc()
	return expired, nil
}

func (q *pgJobQueue) Depth(ctx context.Context) (int, error) {
	var depth int
	err := q.pool.QueryRow(ctx,
		`SELECT count(*) FROM execution_jobs WHERE state IN ('queued', 'active')`,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("postgres: queue depth: %w", err)
	}
	return depth, nil
}
