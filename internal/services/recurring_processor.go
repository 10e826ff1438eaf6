package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ledger/internal/storage"
)

// RequestPublisher hands per-user materialization off to a worker.
type RequestPublisher interface {
	PublishMaterializeRequest(ctx context.Context, userID string, salaryDay int) error
}

// RecurringProcessorConfig holds configuration for the recurring processor
type RecurringProcessorConfig struct {
	// Interval is how often every user is checked for due templates (default: 1h)
	Interval time.Duration

	// Concurrency caps how many users are processed at once (default: 4)
	Concurrency int
}

// DefaultRecurringProcessorConfig returns sensible defaults
func DefaultRecurringProcessorConfig() RecurringProcessorConfig {
	return RecurringProcessorConfig{
		Interval:    time.Hour,
		Concurrency: 4,
	}
}

// RecurringProcessor materializes due templates for every user, each with
// their own salary day.
type RecurringProcessor struct {
	store        storage.Store
	materializer *Materializer
	publisher    RequestPublisher
	config       RecurringProcessorConfig
	now          func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRecurringProcessor wires a processor. With a nil publisher every user
// is materialized in process.
func NewRecurringProcessor(store storage.Store, materializer *Materializer, publisher RequestPublisher, config RecurringProcessorConfig) *RecurringProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultRecurringProcessorConfig().Interval
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &RecurringProcessor{
		store:        store,
		materializer: materializer,
		publisher:    publisher,
		config:       config,
		now:          time.Now,
	}
}

// ProcessUser materializes the instances missing from userID's current
// salary month and returns how many were created.
func (p *RecurringProcessor) ProcessUser(ctx context.Context, userID string, salaryDay int, now time.Time) (int, error) {
	templates, err := p.store.ListRecurringTemplates(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list recurring templates: %w", err)
	}
	created, err := p.materializer.MaterializePendingForWindow(ctx, templates, salaryDay, now)
	if err != nil {
		return len(created), fmt.Errorf("materialize for user %s: %w", userID, err)
	}
	return len(created), nil
}

// ProcessAllUsers runs one pass over every user with saved settings. When a
// publisher is configured the work is queued instead of done here, and the
// returned count is the number of users queued.
func (p *RecurringProcessor) ProcessAllUsers(ctx context.Context, now time.Time) (int, error) {
	users, err := p.store.ListUserSettings(ctx)
	if err != nil {
		return 0, fmt.Errorf("list user settings: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring templates",
		"users", len(users),
		"processing_date", now.Format("2006-01-02"),
		"queued", p.publisher != nil)

	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for _, u := range users {
		g.Go(func() error {
			if p.publisher != nil {
				if err := p.publisher.PublishMaterializeRequest(gctx, u.UserID, u.SalaryDay); err != nil {
					slog.ErrorContext(gctx, "Failed to queue materialization",
						"user_id", u.UserID, "error", err)
					return nil
				}
				processed.Add(1)
				return nil
			}

			n, err := p.ProcessUser(gctx, u.UserID, u.SalaryDay, now)
			processed.Add(int64(n))
			if err != nil {
				// One user's failure must not hold back the rest.
				slog.ErrorContext(gctx, "Failed to process user",
					"user_id", u.UserID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	total := int(processed.Load())
	slog.InfoContext(ctx, "Recurring processing complete",
		"processed", total,
		"users", len(users))
	return total, nil
}

// Start begins the periodic loop. Returns an error if already running.
func (p *RecurringProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("recurring processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Recurring processor started",
		"interval", p.config.Interval,
		"concurrency", p.config.Concurrency)
	return nil
}

// Stop gracefully stops the processor and waits for completion. It is safe
// to call repeatedly and concurrently; a call that times out can be
// followed by another that waits again.
func (p *RecurringProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.stopCh = nil
	p.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Recurring processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Recurring processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	if p.doneCh == doneCh {
		p.running = false
	}
	p.mu.Unlock()
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *RecurringProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RecurringProcessor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// Process immediately on startup
	p.tick(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *RecurringProcessor) tick(ctx context.Context) {
	if _, err := p.ProcessAllUsers(ctx, p.now()); err != nil {
		slog.ErrorContext(ctx, "Recurring processing failed", "error", err)
	}
}
