package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hirebirhan/amtradingplc/cmd/amtrading/cli"
	"github.com/hirebirhan/amtradingplc/internal/app"
	"github.com/hirebirhan/amtradingplc/internal/credit"
	"github.com/hirebirhan/amtradingplc/internal/inventory"
	"github.com/hirebirhan/amtradingplc/internal/observability"
	"github.com/hirebirhan/amtradingplc/internal/platform/cache"
	"github.com/hirebirhan/amtradingplc/internal/platform/db"
	"github.com/hirebirhan/amtradingplc/internal/platform/lock"
	"github.com/hirebirhan/amtradingplc/internal/shared"
	"github.com/hirebirhan/amtradingplc/internal/trading"
	"github.com/hirebirhan/amtradingplc/jobs"
)

type locker interface {
	Obtain(ctx context.Context, key string) (lock.Lease, error)
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		jobsCLI := cli.NewJobsCLI(cfg.AsynqRedis(), cfg.IdempotencyKeepFor)
		code := jobsCLI.Run(ctx, os.Args[2:], os.Stdout, os.Stderr)
		_ = jobsCLI.Close()
		os.Exit(code)
	}

	logger := app.NewLogger(cfg, "api")
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		return err
	}
	defer pool.Close()

	var balanceLocks locker
	var redisClient *redis.Client
	if cfg.LockBackend == "redis" {
		redisClient, err = cache.New(ctx, cfg.RedisOptions())
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		balanceLocks = lock.NewRedis(redisClient, lockOptions(cfg))
	} else {
		logger.Warn("using in-process balance locks; run a single instance only")
		balanceLocks = lock.NewLocal(lockOptions(cfg))
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	inventoryService := inventory.NewService(inventory.NewRepository(pool), balanceLocks, inventory.ServiceConfig{
		Audit:   auditLogger,
		Metrics: metrics,
		Logger:  logger,
	})
	creditService := credit.NewService(credit.NewRepository(pool), balanceLocks, logger)
	tradingService := trading.NewService(trading.NewRepository(pool), inventoryService, creditService, creditService, trading.ServiceConfig{
		Audit:   auditLogger,
		Metrics: metrics,
		Logger:  logger,
	})

	redisOpts := cfg.AsynqRedis()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, inventoryService),
		TradingHandler:   trading.NewHandler(logger, tradingService, idempotencyStore),
		CreditHandler:    credit.NewHandler(logger, creditService, idempotencyStore),
		JobHandler:       jobs.NewHandler(inspector, jobClient, logger),
		Metrics:          metrics,
		Database:         pool,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("lock_backend", cfg.LockBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func lockOptions(cfg *app.Config) lock.Options {
	return lock.Options{TTL: cfg.LockTTL, RetryEvery: cfg.LockRetryEvery, RetryLimit: cfg.LockRetryLimit}
}
