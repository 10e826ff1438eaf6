package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ledger/internal/core"
	"ledger/internal/storage"
)

// TransactionService owns every write to a transaction row, including the
// confirmation transitions that move a template's due-date anchor.
type TransactionService struct {
	store   storage.Store
	onWrite func(userID string)
	now     func() time.Time
}

func NewTransactionService(store storage.Store) *TransactionService {
	return &TransactionService{store: store, now: time.Now}
}

// OnWrite registers a hook run with the owner of every row that changes.
func (s *TransactionService) OnWrite(fn func(userID string)) {
	s.onWrite = fn
}

// Create validates and stores a new template or one-off transaction.
func (s *TransactionService) Create(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	tx.ID = ""
	tx.Version = 1
	tx.WindowStart = nil
	tx.CreatedAt = s.now().UTC()
	if !tx.IsRecurring {
		tx.RecurringInterval = ""
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	created, err := s.store.CreateTransaction(ctx, tx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	slog.InfoContext(ctx, "Transaction created",
		"id", created.ID,
		"user_id", created.UserID,
		"recurring", created.IsRecurring)
	s.notify(created.UserID)
	return created, nil
}

// Get returns the row with id or a NotFoundError.
func (s *TransactionService) Get(ctx context.Context, id string) (core.Transaction, error) {
	tx, err := s.store.FindTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if tx == nil {
		return core.Transaction{}, &core.NotFoundError{Kind: "transaction", ID: id}
	}
	return *tx, nil
}

// Confirm marks id as cleared and anchors the next occurrence at at, or at
// the row's own date when at is nil.
func (s *TransactionService) Confirm(ctx context.Context, id string, at *core.Date) (core.Transaction, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	anchor := tx.Date
	if at != nil {
		anchor = *at
	}
	confirmed := true
	return s.update(ctx, id, storage.TransactionPatch{
		IsConfirmed:       &confirmed,
		LastConfirmedDate: &anchor,
	})
}

// Unconfirm reverts a confirmation and forgets the anchor.
func (s *TransactionService) Unconfirm(ctx context.Context, id string) (core.Transaction, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return core.Transaction{}, err
	}
	confirmed := false
	return s.update(ctx, id, storage.TransactionPatch{
		IsConfirmed:            &confirmed,
		ClearLastConfirmedDate: true,
	})
}

// ToggleConfirmation flips the confirmation state of id.
func (s *TransactionService) ToggleConfirmation(ctx context.Context, id string) (core.Transaction, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if tx.IsConfirmed {
		return s.Unconfirm(ctx, id)
	}
	return s.Confirm(ctx, id, nil)
}

func (s *TransactionService) Delete(ctx context.Context, id string) error {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Transaction deleted", "id", id, "user_id", tx.UserID)
	s.notify(tx.UserID)
	return nil
}

func (s *TransactionService) update(ctx context.Context, id string, patch storage.TransactionPatch) (core.Transaction, error) {
	updated, err := s.store.UpdateTransactionFields(ctx, id, patch)
	if err != nil {
		return core.Transaction{}, err
	}
	slog.InfoContext(ctx, "Transaction confirmation changed",
		"id", id,
		"confirmed", updated.IsConfirmed)
	s.notify(updated.UserID)
	return updated, nil
}

func (s *TransactionService) notify(userID string) {
	if s.onWrite != nil {
		s.onWrite(userID)
	}
}
