package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/fuelops/stationledger/internal/app"
	jobmetrics "github.com/fuelops/stationledger/internal/jobs"
	"github.com/fuelops/stationledger/internal/observability"
	"github.com/fuelops/stationledger/internal/platform/db"
	"github.com/fuelops/stationledger/internal/safe"
	"github.com/fuelops/stationledger/internal/shared"
	"github.com/fuelops/stationledger/internal/shift"
	"github.com/fuelops/stationledger/jobs"
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

	logger := app.NewLogger(cfg)
	periodLoc, _ := cfg.PeriodLocation()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	// The audit only reads and halts, so it needs no distributed posting lock.
	ledger := safe.NewService(safe.NewRepository(pool), safe.ServiceConfig{
		Audit:          shared.NewAuditLogger(pool),
		Closures:       shift.NewRepository(pool),
		Metrics:        metrics,
		PeriodLocation: periodLoc,
		Logger:         logger,
	})
	chainAudit := jobs.NewChainAuditJob(ledger, logger, jobMetrics)
	cleanup := &jobs.IdempotencyCleanupJob{Store: shared.NewIdempotencyStore(pool), Logger: logger, Metrics: jobMetrics}

	auditTask, err := jobs.NewChainAuditTask(0)
	if err != nil {
		logger.Error("build chain audit task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    periodLoc,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSafeChainAudit, Handler: chainAudit.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ChainAuditCron, Task: auditTask},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		_ = metricsServer.Shutdown(context.Background())
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
