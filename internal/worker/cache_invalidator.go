package worker

import (
	"context"
	"log/slog"

	"ledger/internal/amqp"
)

// Invalidator drops cached state for one user.
type Invalidator interface {
	InvalidateUser(userID string)
}

// CacheInvalidator keeps an API process's summary cache in step with
// instances written by other processes.
type CacheInvalidator struct {
	target Invalidator
}

func NewCacheInvalidator(target Invalidator) *CacheInvalidator {
	return &CacheInvalidator{target: target}
}

// HandleInstanceCreated invalidates the owner of a newly materialized instance.
func (c *CacheInvalidator) HandleInstanceCreated(ctx context.Context, msg *amqp.InstanceCreatedMessage) error {
	c.target.InvalidateUser(msg.UserID)
	slog.DebugContext(ctx, "Invalidated summaries after instance event",
		"user_id", msg.UserID,
		"instance_id", msg.InstanceID,
		"template_id", msg.TemplateID)
	return nil
}
