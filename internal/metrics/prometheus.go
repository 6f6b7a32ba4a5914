package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts executions by submission variant and outcome.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_executions_total",
			Help: "Total number of request executions",
		},
		[]string{"variant", "outcome"},
	)

	// ExecutionDuration tracks execution duration in seconds per variant.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querygate_execution_duration_seconds",
			Help:    "Duration of request executions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"variant"},
	)

	// WorkersActive tracks the number of workers currently executing a job.
	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "querygate_workers_active",
			Help: "Number of worker slots currently executing a job",
		},
	)

	// LocksHeld tracks resource leases currently held by this process.
	LocksHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "querygate_locks_held",
			Help: "Number of resource locks currently held",
		},
	)

	// JobsEnqueued counts jobs accepted by the durable queue.
	JobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
	)

	// JobRetries counts queue-level failure reports (retried or terminal).
	JobRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_job_failures_total",
			Help: "Total number of queue-level job failure reports",
		},
	)

	// QueueDepth tracks outstanding (queued or active) jobs.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "querygate_queue_depth",
			Help: "Number of outstanding jobs in the execution queue",
		},
	)

	// SweepRuns counts queue maintenance sweeps.
	SweepRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_queue_sweeps_total",
			Help: "Total number of queue maintenance sweeps",
		},
	)

	// ValidationRejections counts scripts rejected by static validation.
	ValidationRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "querygate_script_rejections_total",
			Help: "Total number of scripts rejected by static validation",
		},
	)
)
