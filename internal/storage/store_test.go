package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/storage"
	"ledger/internal/storage/memory"
)

// Both stores must behave the same; every case runs against each.
func stores(t *testing.T) map[string]storage.Store {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return map[string]storage.Store{
		"sqlite": repo,
		"memory": memory.New(),
	}
}

func template(userID string) core.Transaction {
	last := core.NewDate(2024, 5, 23)
	return core.Transaction{
		UserID:            userID,
		Merchant:          "Landlord",
		Description:       "Rent",
		Amount:            decimal.RequireFromString("-900.50"),
		Date:              core.NewDate(2024, 1, 23),
		IsConfirmed:       true,
		IsRecurring:       true,
		RecurringInterval: core.Monthly,
		LastConfirmedDate: &last,
		Version:           1,
		CreatedAt:         time.Date(2024, 1, 23, 8, 0, 0, 0, time.UTC),
	}
}

func instanceOf(parent core.Transaction, version int64, windowStart core.Date) core.Transaction {
	id := parent.ID
	ws := windowStart
	return core.Transaction{
		UserID:              parent.UserID,
		Merchant:            parent.Merchant,
		Description:         parent.Description,
		Amount:              parent.Amount,
		Date:                windowStart.AddDays(1),
		Version:             version,
		ParentTransactionID: &id,
		WindowStart:         &ws,
		CreatedAt:           time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := store.CreateTransaction(ctx, template("alice"))
			if err != nil {
				t.Fatalf("CreateTransaction() error = %v", err)
			}
			if created.ID == "" {
				t.Fatal("expected generated id")
			}

			got, err := store.FindTransaction(ctx, created.ID)
			if err != nil || got == nil {
				t.Fatalf("FindTransaction() = %v, %v", got, err)
			}
			if !got.Amount.Equal(created.Amount) || !got.Date.Equal(created.Date) ||
				got.RecurringInterval != core.Monthly || got.LastConfirmedDate == nil ||
				got.LastConfirmedDate.String() != "2024-05-23" || !got.CreatedAt.Equal(created.CreatedAt) {
				t.Errorf("round trip = %+v, want %+v", *got, created)
			}

			missing, err := store.FindTransaction(ctx, "nope")
			if err != nil || missing != nil {
				t.Errorf("FindTransaction(missing) = %v, %v; want nil, nil", missing, err)
			}
		})
	}
}

func TestStoreListsByUser(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rent, _ := store.CreateTransaction(ctx, template("alice"))
			_, _ = store.CreateTransaction(ctx, template("bob"))
			_, _ = store.CreateTransaction(ctx, instanceOf(rent, 2, core.NewDate(2024, 5, 23)))

			all, err := store.ListTransactions(ctx, "alice")
			if err != nil {
				t.Fatalf("ListTransactions() error = %v", err)
			}
			if len(all) != 2 || all[0].ID != rent.ID {
				t.Errorf("ListTransactions() = %d rows, first %v", len(all), all)
			}

			templates, err := store.ListRecurringTemplates(ctx, "alice")
			if err != nil {
				t.Fatalf("ListRecurringTemplates() error = %v", err)
			}
			if len(templates) != 1 || templates[0].ID != rent.ID {
				t.Errorf("ListRecurringTemplates() = %v", templates)
			}
		})
	}
}

func TestStoreWindowUniqueness(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rent, _ := store.CreateTransaction(ctx, template("alice"))
			window := core.NewDate(2024, 5, 23)

			first, err := store.CreateTransaction(ctx, instanceOf(rent, 2, window))
			if err != nil {
				t.Fatalf("first instance: %v", err)
			}

			_, err = store.CreateTransaction(ctx, instanceOf(rent, 3, window))
			var conflict *core.ConflictError
			if !errors.As(err, &conflict) || conflict.TemplateID != rent.ID {
				t.Fatalf("second instance error = %v, want ConflictError", err)
			}
			if !errors.Is(err, core.ErrConflict) {
				t.Error("ConflictError should match ErrConflict")
			}

			// Another window is fine, and so are instances without one.
			if _, err := store.CreateTransaction(ctx, instanceOf(rent, 3, core.NewDate(2024, 6, 23))); err != nil {
				t.Errorf("next window: %v", err)
			}
			manual := instanceOf(rent, 4, window)
			manual.WindowStart = nil
			if _, err := store.CreateTransaction(ctx, manual); err != nil {
				t.Errorf("instance without window: %v", err)
			}

			found, err := store.FindInstanceForWindow(ctx, rent.ID, window)
			if err != nil || found == nil || found.ID != first.ID {
				t.Errorf("FindInstanceForWindow() = %v, %v", found, err)
			}
			none, err := store.FindInstanceForWindow(ctx, rent.ID, core.NewDate(2024, 7, 23))
			if err != nil || none != nil {
				t.Errorf("FindInstanceForWindow(empty) = %v, %v", none, err)
			}

			highest, err := store.MaxLineageVersion(ctx, rent.ID)
			if err != nil || highest != 4 {
				t.Errorf("MaxLineageVersion() = %d, %v; want 4", highest, err)
			}
			if v, _ := store.MaxLineageVersion(ctx, "nope"); v != 0 {
				t.Errorf("MaxLineageVersion(missing) = %d, want 0", v)
			}
		})
	}
}

func TestStoreUpdateAndDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rent, _ := store.CreateTransaction(ctx, template("alice"))

			confirmed := false
			updated, err := store.UpdateTransactionFields(ctx, rent.ID, storage.TransactionPatch{
				IsConfirmed:            &confirmed,
				ClearLastConfirmedDate: true,
			})
			if err != nil {
				t.Fatalf("UpdateTransactionFields() error = %v", err)
			}
			if updated.IsConfirmed || updated.LastConfirmedDate != nil || updated.Version != rent.Version {
				t.Errorf("updated = %+v", updated)
			}

			anchor := core.NewDate(2024, 6, 23)
			updated, err = store.UpdateTransactionFields(ctx, rent.ID, storage.TransactionPatch{LastConfirmedDate: &anchor})
			if err != nil || updated.LastConfirmedDate == nil || !updated.LastConfirmedDate.Equal(anchor) {
				t.Errorf("set anchor = %+v, %v", updated, err)
			}

			_, err = store.UpdateTransactionFields(ctx, "nope", storage.TransactionPatch{IsConfirmed: &confirmed})
			if !errors.Is(err, core.ErrNotFound) {
				t.Errorf("update missing error = %v, want not found", err)
			}

			if err := store.DeleteTransaction(ctx, rent.ID); err != nil {
				t.Fatalf("DeleteTransaction() error = %v", err)
			}
			if err := store.DeleteTransaction(ctx, rent.ID); !errors.Is(err, core.ErrNotFound) {
				t.Errorf("second delete error = %v, want not found", err)
			}
		})
	}
}

func TestStoreTaxonomyAndSettings(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			food, err := store.CreateCategory(ctx, "alice", core.Category{Name: "Food", Color: "#F59E0B"})
			if err != nil {
				t.Fatalf("CreateCategory() error = %v", err)
			}
			if _, err := store.CreateMerchant(ctx, "alice", core.Merchant{Name: "Deli", CategoryID: &food.ID}); err != nil {
				t.Fatalf("CreateMerchant() error = %v", err)
			}
			if _, err := store.CreateMerchant(ctx, "alice", core.Merchant{Name: "Cab"}); err != nil {
				t.Fatalf("CreateMerchant() error = %v", err)
			}

			categories, _ := store.ListCategories(ctx, "alice")
			if len(categories) != 1 || categories[0].Color != "#F59E0B" {
				t.Errorf("ListCategories() = %v", categories)
			}
			merchants, _ := store.ListMerchantsWithCategory(ctx, "alice")
			if len(merchants) != 2 {
				t.Fatalf("ListMerchantsWithCategory() = %v", merchants)
			}
			linked := 0
			for _, m := range merchants {
				if m.CategoryID != nil && *m.CategoryID == food.ID {
					linked++
				}
			}
			if linked != 1 {
				t.Errorf("merchants linked to Food = %d, want 1", linked)
			}
			if others, _ := store.ListCategories(ctx, "bob"); len(others) != 0 {
				t.Errorf("bob sees %d categories", len(others))
			}

			if err := store.UpsertUserSettings(ctx, storage.UserSettings{UserID: "bob", SalaryDay: 1}); err != nil {
				t.Fatal(err)
			}
			if err := store.UpsertUserSettings(ctx, storage.UserSettings{UserID: "alice", SalaryDay: 23}); err != nil {
				t.Fatal(err)
			}
			if err := store.UpsertUserSettings(ctx, storage.UserSettings{UserID: "alice", SalaryDay: 27}); err != nil {
				t.Fatal(err)
			}
			if err := store.UpsertUserSettings(ctx, storage.UserSettings{UserID: "carol", SalaryDay: 40}); !core.IsValidation(err) {
				t.Errorf("invalid salary day error = %v", err)
			}

			settings, err := store.ListUserSettings(ctx)
			if err != nil {
				t.Fatal(err)
			}
			want := []storage.UserSettings{{UserID: "alice", SalaryDay: 27}, {UserID: "bob", SalaryDay: 1}}
			if len(settings) != len(want) || settings[0] != want[0] || settings[1] != want[1] {
				t.Errorf("ListUserSettings() = %v, want %v", settings, want)
			}
		})
	}
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	for i := 0; i < 2; i++ {
		if err := storage.RunMigrations(path); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

func TestNewSQLiteRepositoryRequiresPath(t *testing.T) {
	if _, err := storage.NewSQLiteRepository("  "); err == nil {
		t.Error("expected error for empty path")
	}
}
