package storage

import (
	"context"

	"ledger/internal/core"
)

// Ports consumed by the ledger services.
type (
	TransactionReader interface {
		ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error)
		ListRecurringTemplates(ctx context.Context, userID string) ([]core.Transaction, error)
		// FindTransaction returns (nil, nil) when no row has the given id.
		FindTransaction(ctx context.Context, id string) (*core.Transaction, error)
	}

	TransactionWriter interface {
		CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
		UpdateTransactionFields(ctx context.Context, id string, patch TransactionPatch) (core.Transaction, error)
		DeleteTransaction(ctx context.Context, id string) error
	}

	// LineageReader resolves rows linked to a template by parent id.
	LineageReader interface {
		MaxLineageVersion(ctx context.Context, templateID string) (int64, error)
		// FindInstanceForWindow returns (nil, nil) when the template has no
		// instance for the window.
		FindInstanceForWindow(ctx context.Context, templateID string, windowStart core.Date) (*core.Transaction, error)
	}

	TaxonomyReader interface {
		ListMerchantsWithCategory(ctx context.Context, userID string) ([]core.Merchant, error)
		ListCategories(ctx context.Context, userID string) ([]core.Category, error)
	}

	TaxonomyWriter interface {
		CreateCategory(ctx context.Context, userID string, c core.Category) (core.Category, error)
		CreateMerchant(ctx context.Context, userID string, m core.Merchant) (core.Merchant, error)
	}

	SettingsStore interface {
		ListUserSettings(ctx context.Context) ([]UserSettings, error)
		UpsertUserSettings(ctx context.Context, s UserSettings) error
	}

	Store interface {
		TransactionReader
		TransactionWriter
		LineageReader
		TaxonomyReader
		TaxonomyWriter
		SettingsStore
		Close() error
	}
)

// TransactionPatch lists the fields UpdateTransactionFields may change.
// Nil pointers leave the column untouched.
type TransactionPatch struct {
	Merchant               *string
	Description            *string
	IsConfirmed            *bool
	LastConfirmedDate      *core.Date
	ClearLastConfirmedDate bool
}

// Apply writes the patch onto tx and bumps nothing else.
func (p TransactionPatch) Apply(tx *core.Transaction) {
	if p.Merchant != nil {
		tx.Merchant = *p.Merchant
	}
	if p.Description != nil {
		tx.Description = *p.Description
	}
	if p.IsConfirmed != nil {
		tx.IsConfirmed = *p.IsConfirmed
	}
	if p.ClearLastConfirmedDate {
		tx.LastConfirmedDate = nil
	} else if p.LastConfirmedDate != nil {
		d := *p.LastConfirmedDate
		tx.LastConfirmedDate = &d
	}
}

// UserSettings holds the per-user salary anchor used by batch jobs.
type UserSettings struct {
	UserID    string
	SalaryDay int
}
