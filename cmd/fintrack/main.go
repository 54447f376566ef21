package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/cli"
	apphttp "fintrack/internal/http"
	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentApp, true)

	res := cli.InitBackend(context.Background(), logger, cfg)
	if res.Publisher == nil {
		logger.Warn("AMQP disabled - ledger events will not reach the worker")
	}

	ledgerSvc := services.NewLedgerService(res.Store, res.Publisher, res.Stats)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Ledger:             ledgerSvc,
		Budgets:            services.NewBudgetService(res.Store),
		Tags:               services.NewTagService(res.Store),
		Geopoints:          services.NewGeopointService(res.Store),
		Users:              services.NewUserService(res.Store),
		Recurring:          services.NewRecurringProcessor(res.Store, ledgerSvc),
		Issuer:             auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Store:              res.Store,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	logger.Info("Starting fintrack server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		_ = res.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
