package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"ledger/internal/core"
	"ledger/internal/storage"
)

// InstancePublisher announces freshly materialized instances.
type InstancePublisher interface {
	PublishInstanceCreated(ctx context.Context, instance core.Transaction) error
}

// Materializer turns recurring templates into one-off transaction instances.
type Materializer struct {
	store     storage.Store
	publisher InstancePublisher
	group     singleflight.Group
	onWrite   func(userID string)
}

func NewMaterializer(store storage.Store, publisher InstancePublisher) *Materializer {
	return &Materializer{store: store, publisher: publisher}
}

// OnWrite registers a hook run after every instance that gets persisted.
func (m *Materializer) OnWrite(fn func(userID string)) {
	m.onWrite = fn
}

// BuildInstance derives the next instance of template. The template is
// copied, never modified.
func BuildInstance(template core.Transaction, maxLineageVersion int64, now time.Time) (core.Transaction, error) {
	if !template.IsTemplate() {
		return core.Transaction{}, core.NewValidationError("is_recurring", "transaction "+template.ID+" is not a recurring template")
	}
	due, err := requireNextDueDate(template.Anchor(), template.RecurringInterval)
	if err != nil {
		return core.Transaction{}, err
	}

	version := maxLineageVersion
	if template.Version > version {
		version = template.Version
	}
	parent := template.ID

	return core.Transaction{
		ID:                  uuid.NewString(),
		UserID:              template.UserID,
		Merchant:            template.Merchant,
		Description:         template.Description,
		Amount:              template.Amount,
		Date:                due,
		IsConfirmed:         false,
		IsRecurring:         false,
		Version:             version + 1,
		ParentTransactionID: &parent,
		CreatedAt:           now.UTC(),
	}, nil
}

// MaterializeInstance persists the next instance of template.
func (m *Materializer) MaterializeInstance(ctx context.Context, template core.Transaction, now time.Time) (core.Transaction, error) {
	return m.materialize(ctx, template, nil, now)
}

// MaterializeByID resolves templateID and materializes its next instance.
func (m *Materializer) MaterializeByID(ctx context.Context, templateID string, now time.Time) (core.Transaction, error) {
	template, err := m.store.FindTransaction(ctx, templateID)
	if err != nil {
		return core.Transaction{}, err
	}
	if template == nil {
		return core.Transaction{}, &core.NotFoundError{Kind: "template", ID: templateID}
	}
	return m.MaterializeInstance(ctx, *template, now)
}

func (m *Materializer) materialize(ctx context.Context, template core.Transaction, windowStart *core.Date, now time.Time) (core.Transaction, error) {
	maxVersion, err := m.store.MaxLineageVersion(ctx, template.ID)
	if err != nil {
		return core.Transaction{}, err
	}
	instance, err := BuildInstance(template, maxVersion, now)
	if err != nil {
		return core.Transaction{}, err
	}
	if windowStart != nil {
		ws := *windowStart
		instance.WindowStart = &ws
	}

	created, err := m.store.CreateTransaction(ctx, instance)
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Materialized recurring instance",
		"template_id", template.ID,
		"instance_id", created.ID,
		"user_id", created.UserID,
		"due_date", created.Date.String(),
		"version", created.Version)

	if m.onWrite != nil {
		m.onWrite(created.UserID)
	}
	if m.publisher != nil {
		if err := m.publisher.PublishInstanceCreated(ctx, created); err != nil {
			// The row is stored; a lost event only delays downstream consumers.
			slog.ErrorContext(ctx, "Failed to publish instance created event",
				"instance_id", created.ID, "error", err)
		}
	}
	return created, nil
}

// MaterializePendingForWindow creates, for every template falling due in
// the salary month containing now, the instance that window is still
// missing. Each (template, window) pair yields at most one instance: calls
// in this process are collapsed, and storage rejects a second row for the
// same pair with a ConflictError, which counts as already materialized.
func (m *Materializer) MaterializePendingForWindow(ctx context.Context, templates []core.Transaction, salaryDay int, now time.Time) ([]core.Transaction, error) {
	window, err := core.ComputeSalaryMonth(salaryDay, now)
	if err != nil {
		return nil, err
	}

	existing := make(map[string][]core.Transaction)
	var created []core.Transaction

	for _, template := range templates {
		if !template.IsTemplate() {
			continue
		}
		if !template.RecurringInterval.IsValid() {
			slog.WarnContext(ctx, "Skipping template with unrecognized interval",
				"template_id", template.ID, "interval", string(template.RecurringInterval))
			continue
		}
		due := NextDueDate(template.Anchor(), template.RecurringInterval)
		if !window.Contains(due) {
			continue
		}

		rows, ok := existing[template.UserID]
		if !ok {
			rows, err = m.store.ListTransactions(ctx, template.UserID)
			if err != nil {
				return created, err
			}
			existing[template.UserID] = rows
		}
		if hasContentMatch(rows, template, window) {
			continue
		}

		instance, fresh, err := m.materializeForWindow(ctx, template, window, now)
		if err != nil {
			return created, err
		}
		if fresh {
			created = append(created, instance)
			existing[template.UserID] = append(existing[template.UserID], instance)
		}
	}

	slog.InfoContext(ctx, "Window materialization complete",
		"window_start", window.StartDate.String(),
		"templates", len(templates),
		"created", len(created))
	return created, nil
}

// materializeForWindow reports fresh=true only to the caller whose write
// actually created the row.
func (m *Materializer) materializeForWindow(ctx context.Context, template core.Transaction, window core.SalaryMonth, now time.Time) (core.Transaction, bool, error) {
	key := template.ID + "|" + window.StartDate.String()

	var fresh bool
	v, err, _ := m.group.Do(key, func() (any, error) {
		found, err := m.store.FindInstanceForWindow(ctx, template.ID, window.StartDate)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return *found, nil
		}

		start := window.StartDate
		instance, err := m.materialize(ctx, template, &start, now)
		var conflict *core.ConflictError
		if errors.As(err, &conflict) {
			slog.InfoContext(ctx, "Instance already materialized by another writer",
				"template_id", template.ID, "window_start", start.String())
			return core.Transaction{}, nil
		}
		if err != nil {
			return nil, err
		}
		fresh = true
		return instance, nil
	})
	if err != nil {
		return core.Transaction{}, false, err
	}
	return v.(core.Transaction), fresh, nil
}

// hasContentMatch catches rows entered by hand for the same obligation.
func hasContentMatch(rows []core.Transaction, template core.Transaction, window core.SalaryMonth) bool {
	for _, row := range rows {
		if row.IsTemplate() || row.ID == template.ID {
			continue
		}
		if row.ParentTransactionID != nil && *row.ParentTransactionID == template.ID && row.WindowStart != nil &&
			row.WindowStart.Equal(window.StartDate) {
			return true
		}
		if row.Description == template.Description &&
			row.Merchant == template.Merchant &&
			row.Amount.Equal(template.Amount) &&
			window.Contains(row.Date) {
			return true
		}
	}
	return false
}
