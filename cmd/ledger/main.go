package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"ledger/internal/cli"
	apphttp "ledger/internal/http"
	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/worker"
)

func main() {
	logger := cli.SetupLogger(log.ComponentApp, "info")
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(log.ComponentApp, cfg.LogLevel)

	ctx := context.Background()
	result := cli.InitBackend(ctx, logger, cfg, false)

	srv, err := apphttp.NewServer(net.JoinHostPort("", cfg.Port), apphttp.Services{
		Ledger:       result.Ledger,
		Transactions: result.Transactions,
		Materializer: result.Materializer,
		Processor:    result.Processor,
		Settings:     result.Store,
	}, apphttp.Options{
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      ratelimit.DefaultConfig(),
		Logger:         logger,
	})
	if err != nil {
		logger.Error("Failed to build HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	if result.AMQP != nil {
		invalidator := worker.NewCacheInvalidator(result.Ledger)
		go func() {
			err := result.AMQP.ConsumeInstanceEvents(shutdownCtx, invalidator.HandleInstanceCreated)
			if err != nil && shutdownCtx.Err() == nil {
				logger.Error("Instance event consumer stopped", log.FieldError, err)
			}
		}()
	}

	logger.Info("Starting ledger server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp_enabled", result.AMQP != nil)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
