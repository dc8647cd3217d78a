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
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/backoffice/internal/adjustments"
	"github.com/odyssey-erp/backoffice/internal/app"
	"github.com/odyssey-erp/backoffice/internal/cashbook"
	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/notify"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/platform/cache"
	"github.com/odyssey-erp/backoffice/internal/platform/db"
	"github.com/odyssey-erp/backoffice/internal/rbac"
	"github.com/odyssey-erp/backoffice/internal/shared"
	"github.com/odyssey-erp/backoffice/jobs"
)

func main() {
	_ = godotenv.Load()
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	rbacService := rbac.NewService(dbpool)
	if err := rbacService.EnsurePermissions(ctx, shared.BackofficeScopes()); err != nil {
		logger.Error("seed permissions", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	bus := notify.NewBus(redisClient, cfg.NotifyChannel, logger)
	go func() {
		if err := notify.Bridge(ctx, dbpool, notify.DefaultPGChannel, bus, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("postgres notify bridge", slog.Any("error", err))
		}
	}()

	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	adjustmentService := adjustments.NewService(adjustments.ServiceDeps{
		Repo:        adjustments.NewRepository(dbpool, approvalRecorder),
		Catalog:     catalog.NewRepository(dbpool),
		Approvers:   rbacService,
		Audit:       shared.NewAuditLogger(dbpool),
		Locker:      shared.NewLocker(redisClient, cfg.ApprovalLockTTL, cfg.ApprovalLockWait),
		Publisher:   bus,
		Idempotency: shared.NewIdempotencyStore(dbpool),
		History:     approvalRecorder,
		Observer:    metrics,
		Logger:      logger,
	})

	ledgerService := cashbook.NewService(
		cashbook.NewRepository(dbpool),
		cashbook.NewCache(redisClient, cfg.LedgerCacheTTL),
		metrics,
		logger,
	)
	watcher := cashbook.NewWatcher(ledgerService, func(l cashbook.Ledger) {
		metrics.SetCashBalance(l.ClosingBalance.InexactFloat64())
	}, logger)
	changes, err := bus.Subscribe(ctx, cashbook.SourceTables...)
	if err != nil {
		logger.Error("subscribe ledger changes", slog.Any("error", err))
		os.Exit(1)
	}
	go watcher.Run(ctx, changes)
	if _, err := watcher.Refresh(ctx); err != nil {
		logger.Warn("initial ledger refresh", slog.Any("error", err))
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer jobClient.Close()
	if _, err := jobClient.EnqueueCashbookWarmup(ctx, "", ""); err != nil {
		logger.Warn("enqueue cashbook warmup", slog.Any("error", err))
	}
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AdjustmentsHandler: adjustments.NewHandler(logger, adjustmentService, rbacMiddleware),
		CashbookHandler:    cashbook.NewHandler(logger, ledgerService, watcher, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
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
