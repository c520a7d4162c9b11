package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/cardpos/stockledger/internal/app"
	"github.com/cardpos/stockledger/internal/consignment"
	jobmetrics "github.com/cardpos/stockledger/internal/jobs"
	"github.com/cardpos/stockledger/internal/ledger"
	"github.com/cardpos/stockledger/internal/platform/cache"
	"github.com/cardpos/stockledger/internal/platform/db"
	"github.com/cardpos/stockledger/internal/shared"
	"github.com/cardpos/stockledger/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	idempotency := shared.NewIdempotencyStore(pool)
	ledgerRepo := ledger.NewRepository(pool, cfg.LedgerTxRetries)

	ledgerCfg := cfg.LedgerConfig()
	ledgerCfg.Logger = logger
	ledgerCfg.Audit = shared.NewAuditLogger(pool)
	ledgerCfg.Idempotency = idempotency
	ledgerCfg.Events = ledger.EventHandlers{consignment.NewInvalidator(consignment.NewCache(redisClient, cfg.StatsCacheTTL))}
	ledgerCfg.Anomalies = metrics
	ledgerService := ledger.NewService(ledgerRepo, ledgerCfg)

	expiryJob := jobs.NewReservationExpiryJob(ledgerService, logger, metrics)
	reconcileJob := jobs.NewReconcileJob(ledgerService, ledgerRepo, redisClient, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotency, logger, metrics)

	reconcileTask, err := jobs.NewReconcileTask(0)
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReservationExpire, Handler: expiryJob.Handle},
			{Type: jobs.TaskReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 4 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
