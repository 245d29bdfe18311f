package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hirebirhan/amtradingplc/internal/app"
	"github.com/hirebirhan/amtradingplc/internal/credit"
	"github.com/hirebirhan/amtradingplc/internal/inventory"
	jobmetrics "github.com/hirebirhan/amtradingplc/internal/jobs"
	"github.com/hirebirhan/amtradingplc/internal/platform/db"
	"github.com/hirebirhan/amtradingplc/internal/platform/lock"
	"github.com/hirebirhan/amtradingplc/internal/shared"
	"github.com/hirebirhan/amtradingplc/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)

	// The worker only reads balances and flips credit statuses, so no
	// cross-process balance lock is needed here.
	inventoryService := inventory.NewService(inventory.NewRepository(pool), lock.NewLocal(lock.Options{}), inventory.ServiceConfig{Logger: logger})
	creditService := credit.NewService(credit.NewRepository(pool), nil, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	overdueJob := jobs.NewOverdueSweepJob(creditService, logger, metrics)
	integrityJob := jobs.NewIntegrityScanJob(inventoryService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, metrics)

	overdueTask, err := jobs.NewOverdueSweepTask(time.Time{})
	if err != nil {
		logger.Error("build overdue task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewIntegrityScanTask(0)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyKeepFor)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: cfg.AsynqRedis(),
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCreditOverdueSweep, Handler: overdueJob.Handle},
			{Type: jobs.TaskInventoryIntegrityScan, Handler: integrityJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.OverdueSweepCron, Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IntegrityScanCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(time.Hour)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
