package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cardpos/stockledger/internal/app"
	"github.com/cardpos/stockledger/internal/consignment"
	jobmetrics "github.com/cardpos/stockledger/internal/jobs"
	"github.com/cardpos/stockledger/internal/ledger"
	"github.com/cardpos/stockledger/internal/observability"
	"github.com/cardpos/stockledger/internal/platform/cache"
	"github.com/cardpos/stockledger/internal/platform/db"
	"github.com/cardpos/stockledger/internal/shared"
	"github.com/cardpos/stockledger/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	anomalies := jobmetrics.NewMetrics(metrics.Registerer())

	statsCache := consignment.NewCache(redisClient, cfg.StatsCacheTTL)
	if err := statsCache.ListenForInvalidation(ctx, consignment.BumpChannel); err != nil {
		logger.Warn("subscribe stats invalidation", slog.Any("error", err))
	}

	ledgerCfg := cfg.LedgerConfig()
	ledgerCfg.Logger = logger
	ledgerCfg.Audit = shared.NewAuditLogger(dbpool)
	ledgerCfg.Idempotency = shared.NewIdempotencyStore(dbpool)
	ledgerCfg.Events = ledger.EventHandlers{consignment.NewInvalidator(statsCache)}
	ledgerCfg.Anomalies = anomalies
	ledgerCfg.Scheduler = jobClient
	ledgerService := ledger.NewService(ledger.NewRepository(dbpool, cfg.LedgerTxRetries), ledgerCfg)

	consignmentService := consignment.NewService(consignment.NewRepository(dbpool), statsCache, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		LedgerHandler:      ledger.NewHandler(logger, ledgerService),
		ConsignmentHandler: consignment.NewHandler(logger, consignmentService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
		Health: func(r *http.Request) error {
			return dbpool.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
