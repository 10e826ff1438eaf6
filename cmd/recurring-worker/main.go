package main

import (
	"context"
	"os"
	"time"

	"ledger/internal/cli"
	"ledger/internal/log"
)

func main() {
	logger := cli.SetupLogger(log.ComponentRecurring, "info")
	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(log.ComponentRecurring, cfg.LogLevel)

	// With a broker each user's pass is queued for ledger-worker.
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	result := cli.InitBackend(ctx, logger, cfg, true)
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	}()

	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringInterval,
		"concurrency", cfg.RecurringConcurrency,
		"queued", result.AMQP != nil)

	if err := result.Processor.Start(ctx); err != nil {
		logger.Error("Failed to start recurring processor", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := result.Processor.Stop(stopCtx); err != nil {
		logger.Warn("Recurring processor did not stop cleanly", log.FieldError, err)
	}
	logger.Info("Recurring-worker shutdown complete")
}
