package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ledger/internal/amqp"
)

// Processor is the slice of services.RecurringProcessor the worker drives.
type Processor interface {
	ProcessUser(ctx context.Context, userID string, salaryDay int, now time.Time) (int, error)
	ProcessAllUsers(ctx context.Context, now time.Time) (int, error)
}

// MaterializeWorker turns queued materialize requests into instances.
type MaterializeWorker struct {
	processor Processor
	now       func() time.Time
}

func NewMaterializeWorker(processor Processor) *MaterializeWorker {
	return &MaterializeWorker{processor: processor, now: time.Now}
}

// HandleMaterializeRequest processes a single request from AMQP. The window
// is computed from the time of handling, not from when it was queued.
func (w *MaterializeWorker) HandleMaterializeRequest(ctx context.Context, msg *amqp.MaterializeRequestMessage) error {
	slog.InfoContext(ctx, "Processing materialize request",
		"user_id", msg.UserID,
		"salary_day", msg.SalaryDay,
		"queued_at", msg.Timestamp)

	created, err := w.processor.ProcessUser(ctx, msg.UserID, msg.SalaryDay, w.now())
	if err != nil {
		return fmt.Errorf("process user %s: %w", msg.UserID, err)
	}

	slog.InfoContext(ctx, "Materialize request completed",
		"user_id", msg.UserID,
		"created", created)
	return nil
}

// StartupCatchUp runs one direct pass over every user so instances missed
// while the worker was down are created before consuming resumes.
func (w *MaterializeWorker) StartupCatchUp(ctx context.Context) error {
	created, err := w.processor.ProcessAllUsers(ctx, w.now())
	if err != nil {
		return fmt.Errorf("startup catch-up: %w", err)
	}
	if created == 0 {
		slog.InfoContext(ctx, "No missing instances found on startup")
		return nil
	}
	slog.InfoContext(ctx, "Startup catch-up completed", "created", created)
	return nil
}
