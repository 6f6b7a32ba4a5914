package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/querygate/querygate/internal/domain"
)

// RequestStore reads the approved-request model and writes back the
// execution fields. Everything else about the record belongs to the
// approval workflow.
type RequestStore interface {
	// GetByID loads a request, including connection coordinates.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ExecutionRequest, error)

	// TransitionStatus performs a compare-and-set status change. It returns
	// domain.ErrStatusConflict when the record is not in the expected prior
	// status, so a worker's write-back never clobbers a manual edit.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.RequestStatus) error

	// SetResult stores a successful execution outcome.
	SetResult(ctx context.Context, id uuid.UUID, payload string, compressed bool, executedAt time.Time) error

	// SetError stores a failed execution outcome.
	SetError(ctx context.Context, id uuid.UUID, errText string, executedAt time.Time) error

	// GetResult returns the stored result payload, transparently
	// decompressed when the compressed flag is set.
	GetResult(ctx context.Context, id uuid.UUID) (string, error)
}

// JobQueue is the durable execution queue. At most one job per resource key
// is outstanding (queued or active) at any instant.
type JobQueue interface {
	// Enqueue inserts a job. A second enqueue for an outstanding resource
	// key returns domain.ErrDuplicateJob instead of creating a duplicate.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Claim atomically takes the next runnable job for this worker process.
	// Returns (nil, nil) when no job is runnable.
	Claim(ctx context.Context) (*domain.Job, error)

	// Complete marks a claimed job terminally completed.
	Complete(ctx context.Context, jobID uuid.UUID) error

	// Fail records a transient failure and returns the job's resulting
	// state: queued again with its next backoff delay, failed with retries
	// exhausted, or expired when past its absolute deadline.
	Fail(ctx context.Context, jobID uuid.UUID, reason string) (domain.JobState, error)

	// Sweep expires jobs past their absolute expiry, releases claims whose
	// invisibility deadline has lapsed (crashed worker), and archives old
	// terminal jobs. It returns the jobs it expired so their requests can
	// be finalized.
	Sweep(ctx context.Context) ([]*domain.Job, error)

	// Depth counts outstanding jobs, for observability.
	Depth(ctx context.Context) (int, error)
}

// ResourceLock is a lease-based mutual exclusion primitive keyed by resource
// key. It is a secondary guard against out-of-band execution paths; the
// queue's singleton key is the primary serialization.
type ResourceLock interface {
	// Acquire takes the lease for key, returning an owner token. It does not
	// block: a live lease held elsewhere yields domain.ErrLockBusy.
	Acquire(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Refresh extends the lease identified by token. Returns
	// domain.ErrLockExpired when the lease is no longer held by token.
	Refresh(ctx context.Context, token string, ttl time.Duration) error

	// Release drops the lease if token still owns it. Safe to call after
	// expiry.
	Release(ctx context.Context, token string) error

	// ReleaseAll drops every lease this process still holds. Shutdown path.
	ReleaseAll(ctx context.Context) error
}
