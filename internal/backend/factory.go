package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/services"
	"ledger/internal/storage"
	"ledger/internal/storage/memory"
)

const cacheSweepInterval = time.Minute

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend opens the configured store and wires the services on top.
// Writes from either write path invalidate the user's cached summaries.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.openStore(config)
	if err != nil {
		return nil, err
	}

	// Initialize AMQP client (optional)
	var amqpClient *amqp.Client
	if config.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing in process", "error", err)
			amqpClient = nil
		} else {
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	cacheSize := config.SummaryCacheSize
	if cacheSize < 1 {
		cacheSize = 256
	}
	cacheTTL := config.SummaryCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	summaries := cache.NewLRUCache[core.Summary](cacheSize, cacheTTL)
	manager := cache.NewManager()
	manager.Register(summaries)
	manager.StartCleanup(cacheSweepInterval)

	ledger := services.NewLedgerService(store, summaries)

	// Typed nils must not leak into the publisher interfaces.
	var instancePublisher services.InstancePublisher
	var requestPublisher services.RequestPublisher
	if amqpClient != nil {
		instancePublisher = amqpClient
		if config.QueueRecurring {
			requestPublisher = amqpClient
		}
	}

	materializer := services.NewMaterializer(store, instancePublisher)
	materializer.OnWrite(ledger.InvalidateUser)
	transactions := services.NewTransactionService(store)
	transactions.OnWrite(ledger.InvalidateUser)
	processor := services.NewRecurringProcessor(store, materializer, requestPublisher, config.Recurring)

	f.logger.InfoContext(ctx, "Initialized backend",
		"type", config.Type.String(),
		"amqp_enabled", amqpClient != nil,
		"queue_recurring", requestPublisher != nil)

	cleanup := func() error {
		manager.Stop()
		var errs []error
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close amqp: %w", err))
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		return errors.Join(errs...)
	}

	return &BackendResult{
		Store:        store,
		AMQP:         amqpClient,
		Ledger:       ledger,
		Transactions: transactions,
		Materializer: materializer,
		Processor:    processor,
		Cleanup:      cleanup,
	}, nil
}

func (f *DefaultFactory) openStore(config Config) (storage.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return repo, nil
	case MemoryBackend:
		f.logger.Info("Initialized memory backend")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}
