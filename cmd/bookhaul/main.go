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
	"golang.org/x/sync/errgroup"

	"github.com/bookhaul-erp/bookhaul-erp/internal/app"
	"github.com/bookhaul-erp/bookhaul-erp/internal/catalog"
	"github.com/bookhaul-erp/bookhaul-erp/internal/ledger"
	"github.com/bookhaul-erp/bookhaul-erp/internal/observability"
	"github.com/bookhaul-erp/bookhaul-erp/internal/platform/cache"
	"github.com/bookhaul-erp/bookhaul-erp/internal/platform/db"
	"github.com/bookhaul-erp/bookhaul-erp/internal/receiving"
	"github.com/bookhaul-erp/bookhaul-erp/internal/sales"
	"github.com/bookhaul-erp/bookhaul-erp/internal/shared"
	"github.com/bookhaul-erp/bookhaul-erp/internal/stock"
	"github.com/bookhaul-erp/bookhaul-erp/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, on-hand cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	metrics := observability.NewMetrics()

	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, redisClient, cfg.OnHandCacheTTL, logger)
	stockHandler := stock.NewHandler(logger, stockService)

	receivingRepo := receiving.NewRepository(pool)
	receivingService := receiving.NewService(receivingRepo, auditLogger, idempotencyStore, stockService)
	receivingHandler := receiving.NewHandler(logger, receivingService, metrics)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("job client unavailable, shortage digests disabled", slog.Any("error", err))
		jobClient = nil
	} else {
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
	}
	var shortagePublisher sales.ShortagePublisher
	if jobClient != nil {
		shortagePublisher = &jobs.ShortagePublisher{Client: jobClient, Logger: logger}
	}

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, auditLogger, idempotencyStore, stockService, shortagePublisher)
	salesHandler := sales.NewHandler(logger, salesService, metrics)

	ledgerHandler := ledger.NewHandler(logger, ledger.NewRepository(pool))
	catalogHandler := catalog.NewHandler(logger, catalog.NewRepository(pool))

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		StockHandler:     stockHandler,
		ReceivingHandler: receivingHandler,
		SalesHandler:     salesHandler,
		LedgerHandler:    ledgerHandler,
		CatalogHandler:   catalogHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

	if err := group.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
