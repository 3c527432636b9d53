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

	"github.com/fuelops/stationledger/internal/app"
	"github.com/fuelops/stationledger/internal/masterdata"
	"github.com/fuelops/stationledger/internal/observability"
	"github.com/fuelops/stationledger/internal/platform/cache"
	"github.com/fuelops/stationledger/internal/platform/db"
	"github.com/fuelops/stationledger/internal/safe"
	safehttp "github.com/fuelops/stationledger/internal/safe/http"
	"github.com/fuelops/stationledger/internal/shared"
	"github.com/fuelops/stationledger/internal/shift"
	shifthttp "github.com/fuelops/stationledger/internal/shift/http"
	"github.com/fuelops/stationledger/jobs"
)

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

	logger := app.NewLogger(cfg)
	policy, _ := cfg.Policy()
	periodLoc, _ := cfg.PeriodLocation()

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	lockRedis := redisClient
	if err != nil {
		if cfg.IsProduction() {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		// Single-process development: in-process safe lock, no preview cache.
		logger.Warn("redis unavailable, running without distributed lock", slog.Any("error", err))
		lockRedis = nil
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	catalog := masterdata.NewRepository(dbpool)
	shiftRepo := shift.NewRepository(dbpool)
	safeRepo := safe.NewRepository(dbpool)

	ledger := safe.NewService(safeRepo, safe.ServiceConfig{
		Locker:         safe.NewRedisLocker(lockRedis, cfg.SafeLockTTL),
		Audit:          auditLogger,
		Closures:       shiftRepo,
		Metrics:        metrics,
		PeriodLocation: periodLoc,
		Logger:         logger,
	})
	shiftService := shift.NewService(shiftRepo, catalog, ledger, shift.Config{
		Policy:  policy,
		Audit:   auditLogger,
		Queue:   jobClient,
		Metrics: metrics,
		Cache:   shift.NewPreviewCache(lockRedis, cfg.PreviewCacheTTL),
		Logger:  logger,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		ShiftHandler: shifthttp.NewHandler(logger, shiftService),
		SafeHandler:  safehttp.NewHandler(logger, ledger, idempotencyStore),
		JobHandler:   jobs.NewHandler(inspector, logger),
		Database:     dbpool,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
