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

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/numbering"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/platform/lock"
	"github.com/odyssey-erp/stockledger/internal/receipt"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/stock"
	"github.com/odyssey-erp/stockledger/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisCfg := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisCfg)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := redisCfg.Asynq()
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
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	receiptRepo := receipt.NewRepository(pool)
	var sequencer numbering.Sequencer
	switch cfg.NumberingBackend {
	case app.NumberingPostgres:
		sequencer = numbering.NewPostgresSequencer(pool)
	default:
		redisSeq := numbering.NewRedisSequencer(redisClient)
		if err := syncRedisSequences(ctx, receiptRepo, redisSeq); err != nil {
			logger.Error("sync receipt sequences", slog.Any("error", err))
			os.Exit(1)
		}
		sequencer = redisSeq
	}

	metrics := observability.NewMetrics()

	receiptService := receipt.NewService(receipt.Dependencies{
		Repo:        receiptRepo,
		Numbers:     sequencer,
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Locker:      lock.NewRedisLocker(redisClient, lock.Options{TTL: cfg.DocumentLockTTL, Wait: cfg.DocumentLockWait}, logger),
		Integration: jobClient,
		Metrics:     metrics,
		Logger:      logger,
	}, receipt.ServiceConfig{NumberPrefix: cfg.ReceiptNumberPrefix})
	stockService := stock.NewService(stock.NewPostgresReader(pool), logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		ReceiptHandler: receipt.NewHandler(logger, receiptService),
		StockHandler:   stock.NewHandler(logger, stockService),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("numbering", cfg.NumberingBackend),
		)
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

// syncRedisSequences raises the Redis counters to the numbers already stored,
// so a flushed Redis never reissues a receipt number.
func syncRedisSequences(ctx context.Context, repo *receipt.Repository, seq *numbering.RedisSequencer) error {
	maxima, err := repo.MaxSequences(ctx)
	if err != nil {
		return err
	}
	for tenantID, floor := range maxima {
		if _, err := seq.EnsureAtLeast(ctx, tenantID, receipt.DefaultSequenceKey, floor); err != nil {
			return err
		}
	}
	return nil
}
