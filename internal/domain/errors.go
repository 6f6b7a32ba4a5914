package domain

import "errors"

var (
	// ErrRequestNotFound is returned when a request cannot be found by ID.
	ErrRequestNotFound = errors.New("request not found")

	// ErrDuplicateJob is returned when a job for the same resource key is
	// already outstanding (singleton-key coalescing).
	ErrDuplicateJob = errors.New("job already outstanding for resource key")

	// ErrLockBusy is returned when the resource lease is held by another owner.
	ErrLockBusy = errors.New("resource lock held by another owner")

	// ErrLockExpired is returned when refreshing a lease that is no longer held.
	ErrLockExpired = errors.New("resource lock lease expired")

	// ErrStatusConflict is returned when a compare-and-set status transition
	// finds the record in an unexpected state.
	ErrStatusConflict = errors.New("request status changed concurrently")
)
