package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/querygate/querygate/internal/codec"
	"github.com/querygate/querygate/internal/domain"
	"github.com/querygate/querygate/internal/executor"
	"github.com/querygate/querygate/internal/metrics"
	"github.com/querygate/querygate/internal/repository"
)

// Outcome tells the worker pool how to report a processed job back to the
// queue.
type Outcome int

const (
	// OutcomeDone means the job reached a terminal result (executed or
	// failed) and must be completed in the queue.
	OutcomeDone Outcome = iota

	// OutcomeRetry means a transient infrastructure condition (lock busy,
	// storage error) prevented execution; the queue should retry per policy.
	OutcomeRetry

	// OutcomeStale means the request is no longer executable (withdrawn,
	// manually edited); the job is completed without executing.
	OutcomeStale
)

// ExecuteJobUsecase drives one claimed job through lock acquisition, the
// approved-state check, executor dispatch, result persistence, and lock
// release.
type ExecuteJobUsecase struct {
	requests          repository.RequestStore
	lock              repository.ResourceLock
	executors         executor.Registry
	lockTTL           time.Duration
	compressThreshold int
	logger            *zap.Logger
}

// NewExecuteJobUsecase creates the execution orchestrator.
func NewExecuteJobUsecase(
	requests repository.RequestStore,
	lock repository.ResourceLock,
	executors executor.Registry,
	lockTTL time.Duration,
	compressThreshold int,
	logger *zap.Logger,
) *ExecuteJobUsecase {
	return &ExecuteJobUsecase{
		requests:          requests,
		lock:              lock,
		executors:         executors,
		lockTTL:           lockTTL,
		compressThreshold: compressThreshold,
		logger:            logger,
	}
}

// Execute processes a single claimed job. The returned error is only
// non-nil for OutcomeRetry and carries the transient cause for the queue's
// failure record.
func (uc *ExecuteJobUsecase) Execute(ctx context.Context, job *domain.Job) (Outcome, error) {
	// Step 1: secondary guard — take the resource lease. The queue's
	// singleton key already serializes per resource; the lease protects
	// against out-of-band execution paths. Busy is transient: back off and
	// let the queue retry.
	token, err := uc.lock.Acquire(ctx, job.ResourceKey, uc.lockTTL)
	if err != nil {
		return OutcomeRetry, fmt.Errorf("acquire lock %s: %w", job.ResourceKey, err)
	}
	defer func() {
		// Guaranteed cleanup: runs whatever happened after acquisition.
		if relErr := uc.lock.Release(context.WithoutCancel(ctx), token); relErr != nil {
			uc.logger.Error("Failed to release resource lock",
				zap.String("resource_key", job.ResourceKey),
				zap.Error(relErr),
			)
		}
	}()

	// Step 2: load the request and verify it is still approved. A manual
	// intervention (withdrawal, status edit) between enqueue and claim makes
	// the job stale, not failed.
	req, err := uc.requests.GetByID(ctx, job.RequestID)
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotFound) {
			uc.logger.Warn("Job references missing request, dropping",
				zap.String("job_id", job.JobID.String()),
				zap.String("request_id", job.RequestID.String()),
			)
			return OutcomeStale, nil
		}
		return OutcomeRetry, fmt.Errorf("load request: %w", err)
	}

	if err := uc.requests.TransitionStatus(ctx, req.ID, domain.StatusApproved, domain.StatusExecuting); err != nil {
		switch {
		case errors.Is(err, domain.ErrStatusConflict) && req.Status == domain.StatusExecuting:
			// A previous attempt died between the status write and the
			// result write. The singleton key guarantees nobody else is
			// running this resource, so resume rather than drop.
			uc.logger.Warn("Resuming request left in executing state by an earlier attempt",
				zap.String("request_id", req.ID.String()),
			)
		case errors.Is(err, domain.ErrStatusConflict):
			uc.logger.Warn("Request left approved state before execution, dropping job",
				zap.String("request_id", req.ID.String()),
				zap.String("status", string(req.Status)),
			)
			return OutcomeStale, nil
		default:
			return OutcomeRetry, fmt.Errorf("transition to executing: %w", err)
		}
	}

	uc.logger.Info("Job started",
		zap.String("job_id", job.JobID.String()),
		zap.String("request_id", req.ID.String()),
		zap.String("variant", string(req.Variant())),
		zap.String("approved_by", job.ApprovedBy),
	)

	// Step 3: dispatch on the payload variant.
	exec, ok := uc.executors.For(req)
	if !ok {
		// No executor for this variant is a configuration defect, terminal
		// for the request.
		return uc.persistFailure(ctx, req,
			domain.Failed(fmt.Sprintf("no executor for submission variant %s", req.Variant())))
	}

	// Keep the lease alive while the executor runs. Scripts can legally run
	// up to their own timeout, which the lease must outlive.
	stopRefresh := uc.keepLeaseAlive(ctx, job.ResourceKey, token)
	defer stopRefresh()

	start := time.Now()
	result := exec.Execute(ctx, req)
	metrics.ExecutionDuration.WithLabelValues(string(req.Variant())).Observe(time.Since(start).Seconds())

	// Steps 4-5: persist the outcome. Executor failures are business-level
	// and terminal; only persistence trouble is retried.
	if result.Success {
		return uc.persistSuccess(ctx, req, result)
	}
	return uc.persistFailure(ctx, req, result)
}

// AbandonRequest finalizes a request whose job the queue gave up on
// (retries exhausted or expired before running). The request is failed
// with errText so the submitter sees why nothing ever ran.
func (uc *ExecuteJobUsecase) AbandonRequest(ctx context.Context, job *domain.Job, errText string) {
	now := time.Now().UTC()

	if err := uc.requests.SetError(ctx, job.RequestID, errText, now); err != nil {
		uc.logger.Error("Failed to persist abandoned-job error",
			zap.String("request_id", job.RequestID.String()),
			zap.Error(err),
		)
		return
	}
	// An interrupted attempt may have left the request in either state.
	err := uc.requests.TransitionStatus(ctx, job.RequestID, domain.StatusApproved, domain.StatusFailed)
	if errors.Is(err, domain.ErrStatusConflict) {
		err = uc.requests.TransitionStatus(ctx, job.RequestID, domain.StatusExecuting, domain.StatusFailed)
	}
	if err != nil && !errors.Is(err, domain.ErrStatusConflict) {
		uc.logger.Error("Failed to fail request for abandoned job",
			zap.String("request_id", job.RequestID.String()),
			zap.Error(err),
		)
		return
	}
	uc.logger.Warn("Request failed after queue abandoned its job",
		zap.String("request_id", job.RequestID.String()),
		zap.String("job_id", job.JobID.String()),
		zap.String("error", errText),
	)
}

// keepLeaseAlive refreshes the resource lease at a third of its TTL until
// the returned stop function is called. A lost lease is logged, not acted
// on: the queue's singleton key still serializes, and aborting a running
// executor mid-flight would strand the request in EXECUTING.
func (uc *ExecuteJobUsecase) keepLeaseAlive(ctx context.Context, resourceKey, token string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(uc.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := uc.lock.Refresh(ctx, token, uc.lockTTL); err != nil {
					uc.logger.Warn("Resource lease refresh failed",
						zap.String("resource_key", resourceKey),
						zap.Error(err),
					)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (uc *ExecuteJobUsecase) persistSuccess(ctx context.Context, req *domain.ExecutionRequest, result *domain.ExecutionResult) (Outcome, error) {
	payload := result.Output
	compressed := false
	if codec.ShouldCompress(payload, uc.compressThreshold) {
		encoded, err := codec.Compress(payload)
		if err != nil {
			return OutcomeRetry, fmt.Errorf("compress result: %w", err)
		}
		payload = encoded
		compressed = true
	}

	if err := uc.requests.SetResult(ctx, req.ID, payload, compressed, result.ExecutedAt); err != nil {
		return OutcomeRetry, fmt.Errorf("persist result: %w", err)
	}
	if err := uc.requests.TransitionStatus(ctx, req.ID, domain.StatusExecuting, domain.StatusExecuted); err != nil {
		return OutcomeRetry, fmt.Errorf("transition to executed: %w", err)
	}

	metrics.ExecutionsTotal.WithLabelValues(string(req.Variant()), "executed").Inc()
	uc.logger.Info("Job succeeded",
		zap.String("request_id", req.ID.String()),
		zap.Int("output_bytes", codec.ByteSize(result.Output)),
		zap.Bool("compressed", compressed),
	)
	return OutcomeDone, nil
}

func (uc *ExecuteJobUsecase) persistFailure(ctx context.Context, req *domain.ExecutionRequest, result *domain.ExecutionResult) (Outcome, error) {
	if err := uc.requests.SetError(ctx, req.ID, result.Error, result.ExecutedAt); err != nil {
		return OutcomeRetry, fmt.Errorf("persist error: %w", err)
	}
	if err := uc.requests.TransitionStatus(ctx, req.ID, domain.StatusExecuting, domain.StatusFailed); err != nil {
		return OutcomeRetry, fmt.Errorf("transition to failed: %w", err)
	}

	metrics.ExecutionsTotal.WithLabelValues(string(req.Variant()), "failed").Inc()
	uc.logger.Info("Job failed",
		zap.String("request_id", req.ID.String()),
		zap.String("error", result.Error),
	)
	return OutcomeDone, nil
}
