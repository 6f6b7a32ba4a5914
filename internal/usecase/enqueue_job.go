package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/querygate/querygate/internal/domain"
	"github.com/querygate/querygate/internal/executor"
	"github.com/querygate/querygate/internal/repository"
)

// EnqueueJobUsecase converts an approved request into a durable execution
// job. Scripts pass static validation here; a rejected script marks the
// request failed and never reaches the queue.
type EnqueueJobUsecase struct {
	requests repository.RequestStore
	queue    repository.JobQueue
	policy   domain.RetryPolicy
	logger   *zap.Logger
}

// NewEnqueueJobUsecase creates the approval-to-job converter.
func NewEnqueueJobUsecase(
	requests repository.RequestStore,
	queue repository.JobQueue,
	policy domain.RetryPolicy,
	logger *zap.Logger,
) *EnqueueJobUsecase {
	return &EnqueueJobUsecase{
		requests: requests,
		queue:    queue,
		policy:   policy,
		logger:   logger,
	}
}

// Execute enqueues one approved request. A duplicate singleton key means a
// job for the same database is already outstanding; that is reported as
// already-queued, not an error.
func (uc *EnqueueJobUsecase) Execute(ctx context.Context, event *domain.ApprovalEvent) error {
	req, err := uc.requests.GetByID(ctx, event.RequestID)
	if err != nil {
		return fmt.Errorf("load approved request: %w", err)
	}
	if req.Status != domain.StatusApproved {
		uc.logger.Warn("Approval event for request not in approved state, ignoring",
			zap.String("request_id", req.ID.String()),
			zap.String("status", string(req.Status)),
		)
		return nil
	}

	if req.Kind == domain.KindScript {
		if violations := executor.ValidateScript(req.ScriptSource); len(violations) > 0 {
			uc.logger.Warn("Script rejected by static validation",
				zap.String("request_id", req.ID.String()),
				zap.Strings("violations", violations),
			)
			now := time.Now().UTC()
			if err := uc.requests.SetError(ctx, req.ID, strings.Join(violations, "\n"), now); err != nil {
				return fmt.Errorf("persist validation rejection: %w", err)
			}
			if err := uc.requests.TransitionStatus(ctx, req.ID, domain.StatusApproved, domain.StatusFailed); err != nil {
				return fmt.Errorf("transition rejected script: %w", err)
			}
			return nil
		}
	}

	jobID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}

	job := &domain.Job{
		JobID:       jobID,
		ResourceKey: req.ResourceKey(),
		RequestID:   req.ID,
		ApprovedBy:  event.ApprovedBy,
		Policy:      uc.policy,
		CreatedAt:   time.Now().UTC(),
	}

	if err := uc.queue.Enqueue(ctx, job); err != nil {
		if errors.Is(err, domain.ErrDuplicateJob) {
			// At most one job per resource key is outstanding. The event is
			// acked and this request stays APPROVED; it runs when the
			// approval tier emits another event after the key frees, not by
			// queueing behind the outstanding job.
			uc.logger.Info("Execution already outstanding for resource, coalescing",
				zap.String("request_id", req.ID.String()),
				zap.String("resource_key", job.ResourceKey),
			)
			return nil
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}
