package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the queue-level lifecycle of an execution job, separate from
// the request status the approval workflow sees.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobExpired   JobState = "expired"
)

// RetryPolicy governs queue-level retry of transient infrastructure
// failures. Business-level script/query errors are terminal and never
// retried.
type RetryPolicy struct {
	// RetryLimit is the number of retries after the first attempt.
	RetryLimit int

	// Backoff is the delay before the first retry.
	Backoff time.Duration

	// ExponentialBackoff doubles the delay on every subsequent retry.
	ExponentialBackoff bool

	// Expiry is how long after creation the job may still run. Past it the
	// job is abandoned regardless of retries remaining.
	Expiry time.Duration
}

// NextDelay returns the backoff delay before retry number retry (0-based).
func (p RetryPolicy) NextDelay(retry int) time.Duration {
	if !p.ExponentialBackoff || retry <= 0 {
		return p.Backoff
	}
	d := p.Backoff
	for i := 0; i < retry; i++ {
		d *= 2
	}
	return d
}

// Job is one durable execution job. The payload persisted to the queue is
// exactly {jobId, resourceKey, requestId, approvedBy}; connection secrets
// never enter the queue storage.
type Job struct {
	JobID       uuid.UUID `json:"job_id"`
	ResourceKey string    `json:"resource_key"`
	RequestID   uuid.UUID `json:"request_id"`
	ApprovedBy  string    `json:"approved_by"`

	State          JobState    `json:"state"`
	RetryRemaining int         `json:"retry_remaining"`
	Policy         RetryPolicy `json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
}

// ApprovalEvent is the message the approval web tier publishes when a
// request transitions to approved.
type ApprovalEvent struct {
	RequestID  uuid.UUID `json:"request_id"`
	ApprovedBy string    `json:"approved_by"`
}
