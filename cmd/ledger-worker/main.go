package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ledger/internal/cli"
	"ledger/internal/log"
	"ledger/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	logger := cli.SetupLogger(log.ComponentWorker, "info")
	logger.Info("Starting ledger-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(log.ComponentWorker, cfg.LogLevel)
	if !cfg.AMQPEnabled() {
		logger.Error("ledger-worker requires AMQP_URL")
		return 1
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// The worker materializes in process; it never re-queues.
	result := cli.InitBackend(ctx, logger, cfg, false)
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	}()
	if result.AMQP == nil {
		logger.Error("AMQP broker unreachable")
		return 1
	}

	materializeWorker := worker.NewMaterializeWorker(result.Processor)

	// Recover instances missed while the worker was down.
	logger.Info("Performing startup catch-up...")
	if err := materializeWorker.StartupCatchUp(ctx); err != nil {
		logger.Error("Startup catch-up failed", log.FieldError, err)
	}

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- result.AMQP.ConsumeMaterializeRequests(ctx, materializeWorker.HandleMaterializeRequest)
	}()

	select {
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			// Let the supervisor restart us with a fresh connection.
			logger.Error("Message consumption failed", log.FieldError, err)
			exitCode = 1
			return
		}
		cli.WaitForShutdown(ctx, done)
	case <-done:
	}
	logger.Info("Worker shutdown complete")
	return 0
}
