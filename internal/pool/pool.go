package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/querygate/querygate/internal/domain"
	"github.com/querygate/querygate/internal/metrics"
	"github.com/querygate/querygate/internal/repository"
	"github.com/querygate/querygate/internal/usecase"
)

// WorkerPool runs a fixed number of goroutines that claim jobs from the
// durable queue and process them. Jobs for different resource keys run
// concurrently; the queue's singleton key keeps same-key jobs serialized.
type WorkerPool struct {
	size          int
	queue         repository.JobQueue
	executeUC     *usecase.ExecuteJobUsecase
	pollInterval  time.Duration
	sweepInterval time.Duration
	shutdownGrace time.Duration
	logger        *zap.Logger
	wg            sync.WaitGroup
}

// NewWorkerPool creates a worker pool of the given size.
func NewWorkerPool(
	size int,
	queue repository.JobQueue,
	executeUC *usecase.ExecuteJobUsecase,
	pollInterval, sweepInterval, shutdownGrace time.Duration,
	logger *zap.Logger,
) *WorkerPool {
	return &WorkerPool{
		size:          size,
		queue:         queue,
		executeUC:     executeUC,
		pollInterval:  pollInterval,
		sweepInterval: sweepInterval,
		shutdownGrace: shutdownGrace,
		logger:        logger,
	}
}

// Start launches the worker goroutines and the queue maintenance sweeper.
// Call Stop to wait for them to finish.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("pool_size", p.size))

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.sweeper(ctx)
}

// Stop waits for in-flight jobs to finish, bounded by the shutdown grace
// period. Abandoned jobs stay claimed until their queue lease lapses, after
// which another worker picks them up.
func (p *WorkerPool) Stop() {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped")
	case <-time.After(p.shutdownGrace):
		p.logger.Warn("Worker pool shutdown grace period elapsed, abandoning in-flight jobs",
			zap.Duration("grace", p.shutdownGrace),
		)
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
			return
		case <-ticker.C:
			// Drain everything runnable before sleeping again.
			for {
				job, err := p.queue.Claim(ctx)
				if err != nil {
					if ctx.Err() == nil {
						p.logger.Error("Failed to claim job", zap.Int("worker_id", id), zap.Error(err))
					}
					break
				}
				if job == nil {
					break
				}
				p.process(ctx, id, job)

				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// process runs one claimed job and reports the outcome to the queue. A
// panic in the pipeline fails the job instead of killing the worker.
func (p *WorkerPool) process(ctx context.Context, id int, job *domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker panic recovered",
				zap.Int("worker_id", id),
				zap.String("job_id", job.JobID.String()),
				zap.Any("panic", r),
			)
			p.reportFailure(context.WithoutCancel(ctx), job, domain.NormalizeError(r))
		}
	}()

	p.logger.Info("Worker processing job",
		zap.Int("worker_id", id),
		zap.String("job_id", job.JobID.String()),
		zap.String("resource_key", job.ResourceKey),
	)

	metrics.WorkersActive.Inc()
	defer metrics.WorkersActive.Dec()

	outcome, err := p.executeUC.Execute(ctx, job)

	switch outcome {
	case usecase.OutcomeDone, usecase.OutcomeStale:
		if ackErr := p.queue.Complete(context.WithoutCancel(ctx), job.JobID); ackErr != nil {
			p.logger.Error("Failed to complete job in queue",
				zap.String("job_id", job.JobID.String()),
				zap.Error(ackErr),
			)
		}
	case usecase.OutcomeRetry:
		reason := "transient failure"
		if err != nil {
			reason = err.Error()
		}
		p.reportFailure(context.WithoutCancel(ctx), job, reason)
	}
}

// reportFailure hands a transient failure to the queue. When the queue gives
// up on the job (retries exhausted or expired), the request itself is failed
// so the submitter is not left waiting on a job that will never run.
func (p *WorkerPool) reportFailure(ctx context.Context, job *domain.Job, reason string) {
	state, err := p.queue.Fail(ctx, job.JobID, reason)
	if err != nil {
		p.logger.Error("Failed to report job failure to queue",
			zap.String("job_id", job.JobID.String()),
			zap.Error(err),
		)
		return
	}
	if state == domain.JobFailed || state == domain.JobExpired {
		p.executeUC.AbandonRequest(ctx, job, "execution retries exhausted: "+reason)
	}
}

// sweeper periodically expires stale jobs, requeues crashed claims, and
// refreshes the queue depth gauge. Requests whose job expired before it
// ever ran get a terminal outcome here; no other code path sees them again.
func (p *WorkerPool) sweeper(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := p.queue.Sweep(ctx)
			if err != nil {
				p.logger.Error("Queue sweep failed", zap.Error(err))
			}
			for _, job := range expired {
				p.executeUC.AbandonRequest(ctx, job, "execution expired before running")
			}
			if depth, err := p.queue.Depth(ctx); err == nil {
				metrics.QueueDepth.Set(float64(depth))
			}
		}
	}
}
