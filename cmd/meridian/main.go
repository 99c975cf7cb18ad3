package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/manufacturing"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/purchasing"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
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

	validate := validator.New()
	auditLogger := shared.NewAuditLogger(pool)
	approvals := shared.NewApprovalRecorder(pool, logger)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	ledgerService := ledger.NewService(ledger.NewRepository(pool), auditLogger)
	costingService := costing.NewService(costing.NewRepository(pool), auditLogger)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, costing reads uncached", slog.Any("error", err))
	} else {
		costingService.WithCache(costing.NewCache(redisClient, 30*time.Second))
	}
	purchasingService := purchasing.NewService(purchasing.NewRepository(pool), auditLogger, approvals, purchasing.Config{
		ApprovalThreshold: cfg.BillApprovalThreshold,
		PriceToleranceBps: cfg.PriceToleranceBps,
	})
	salesService := sales.NewService(sales.NewRepository(pool), auditLogger)
	manufacturingService := manufacturing.NewService(manufacturing.NewRepository(pool), auditLogger)

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		Pool:                 pool,
		LedgerHandler:        ledger.NewHandler(logger, ledgerService, validate),
		CostingHandler:       costing.NewHandler(logger, costingService, validate),
		PurchasingHandler:    purchasing.NewHandler(logger, purchasingService, validate),
		SalesHandler:         sales.NewHandler(logger, salesService, validate),
		ManufacturingHandler: manufacturing.NewHandler(logger, manufacturingService, validate),
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
