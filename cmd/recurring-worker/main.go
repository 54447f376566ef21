package main

import (
	"context"
	"time"

	"fintrack/internal/cli"
	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentRecurring, false)
	logger.Info("Starting recurring-worker")

	res := cli.InitBackend(context.Background(), logger, cfg)
	if res.Publisher == nil {
		logger.Info("AMQP disabled - generated transactions will not emit ledger events")
	}

	ledgerSvc := services.NewLedgerService(res.Store, res.Publisher, res.Stats)
	processor := services.NewRecurringProcessor(res.Store, ledgerSvc)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	interval := cfg.RecurringInterval
	logger.Info("Recurring processor configured", "interval", interval, "backend", cfg.DataBackend)

	process := func(now time.Time) {
		count, err := processor.ProcessDue(ctx, now)
		if err != nil {
			logger.Error("Recurring processing failed", "error", err)
			return
		}
		logger.Info("Recurring processing complete",
			"transactions_created", count,
			"next_check", now.Add(interval).Format("15:04:05"))
	}

	// Run once on startup so a restart never skips a due day.
	process(time.Now().UTC())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cli.WaitForShutdown(ctx, done)
			logger.Info("Recurring-worker shutdown complete")
			return
		case now := <-ticker.C:
			process(now.UTC())
		}
	}
}
