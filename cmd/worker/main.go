package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/querygate/querygate/internal/config"
	amqpdelivery "github.com/querygate/querygate/internal/delivery/amqp"
	"github.com/querygate/querygate/internal/domain"
	"github.com/querygate/querygate/internal/executor"
	"github.com/querygate/querygate/internal/pool"
	pgrepo "github.com/querygate/querygate/internal/repository/postgres"
	redisrepo "github.com/querygate/querygate/internal/repository/redis"
	"github.com/querygate/querygate/internal/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting querygate execution worker")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL (queue + request store)
	dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()
	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping PostgreSQL", zap.Error(err))
	}
	logger.Info("Connected to PostgreSQL")

	// Connect to Redis (resource lock)
	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", zap.Error(err))
	}
	redisClient := goredis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	// Stores
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
	requestStore := pgrepo.NewRequestStore(dbPool)
	jobQueue := pgrepo.NewJobQueue(dbPool, workerID, logger)
	resourceLock := redisrepo.NewResourceLock(redisClient, logger)

	// Executors, one per submission variant
	scriptRunner := executor.NewScriptRunner(
		cfg.Sandbox.NodePath, cfg.Sandbox.ModulesDir,
		cfg.Sandbox.ScriptTimeout, cfg.Sandbox.MemoryLimitMB, logger,
	)
	pgExecutor := executor.NewPostgresExecutor(cfg.Worker.QueryTimeout, logger)
	defer pgExecutor.Close()
	mongoExecutor := executor.NewMongoExecutor(cfg.Worker.QueryTimeout, logger)

	executors := executor.Registry{
		domain.VariantScript:        scriptRunner,
		domain.VariantPostgresQuery: pgExecutor,
		domain.VariantMongoCommand:  mongoExecutor,
	}

	// Use cases
	retryPolicy := domain.RetryPolicy{
		RetryLimit:         cfg.Queue.RetryLimit,
		Backoff:            cfg.Queue.RetryBackoff,
		ExponentialBackoff: cfg.Queue.ExponentialBackoff,
		Expiry:             cfg.Queue.JobExpiry,
	}
	enqueueUC := usecase.NewEnqueueJobUsecase(requestStore, jobQueue, retryPolicy, logger)
	executeUC := usecase.NewExecuteJobUsecase(
		requestStore, resourceLock, executors,
		cfg.Worker.LockTTL, cfg.Result.CompressThresholdBytes, logger,
	)

	// Approval-event intake
	consumer, err := amqpdelivery.NewConsumer(cfg.AMQP.URL, enqueueUC, logger)
	if err != nil {
		logger.Fatal("Failed to initialize AMQP consumer", zap.Error(err))
	}
	defer consumer.Close()
	logger.Info("Connected to AMQP broker")

	// Worker pool
	workerPool := pool.NewWorkerPool(
		cfg.Worker.PoolSize, jobQueue, executeUC,
		cfg.Worker.PollInterval, cfg.Queue.SweepInterval, cfg.Worker.ShutdownGrace,
		logger,
	)
	workerPool.Start(ctx)

	// Start AMQP consumer in a goroutine
	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.Error("AMQP consumer error", zap.Error(err))
			cancel()
		}
	}()

	// Start Prometheus metrics server
	go func() {
		metricsAddr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics server listening", zap.String("addr", metricsAddr))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")

	// Stop intake first, then drain in-flight jobs, then drop leases.
	consumer.Close()
	cancel()
	workerPool.Stop()

	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer releaseCancel()
	if err := resourceLock.ReleaseAll(releaseCtx); err != nil {
		logger.Error("Failed to release locks at shutdown", zap.Error(err))
	}
	mongoExecutor.Close(releaseCtx)

	logger.Info("Worker stopped")
}
