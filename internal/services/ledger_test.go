package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/storage/memory"
)

func row(merchant, amount, day string, confirmed bool) core.Transaction {
	return core.Transaction{
		ID:          merchant + day + amount,
		UserID:      "user-1",
		Merchant:    merchant,
		Description: merchant,
		Amount:      decimal.RequireFromString(amount),
		Date:        date(day),
		IsConfirmed: confirmed,
		Version:     1,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestAggregateLedger(t *testing.T) {
	now := at("2024-06-10") // window 2024-05-23 .. 2024-06-22

	txs := []core.Transaction{
		row("Employer", "2500", "2024-05-23", true),   // current + total income
		row("Employer", "2400", "2024-04-23", true),   // total income only
		row("Refund", "30", "2024-06-01", false),      // unconfirmed income, ignored
		row("Grocer", "-120.50", "2024-06-02", true),  // current + total expense
		row("Grocer", "-80", "2024-05-01", true),      // total expense only
		row("Plumber", "-200", "2024-06-05", false),   // pending
		row("Dentist", "-75.25", "2023-12-01", false), // pending, any date
		newTemplate("rent", "-900", core.Monthly, "2024-01-23", datePtr("2024-05-23")),
	}

	got, err := AggregateLedger(txs, 23, now)
	if err != nil {
		t.Fatalf("AggregateLedger() error = %v", err)
	}

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"CurrentIncome", got.CurrentIncome, "2500"},
		{"CurrentExpenses", got.CurrentExpenses, "120.50"},
		{"TotalIncome", got.TotalIncome, "4900"},
		{"TotalExpenses", got.TotalExpenses, "200.50"},
		{"TotalPendingExpenses", got.TotalPendingExpenses, "1175.25"},
		{"Available", got.Available, "3524.25"},
	}
	for _, c := range checks {
		if !c.got.Equal(dec(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}
	if got.Window.StartDate.String() != "2024-05-23" || got.Window.EndDate.String() != "2024-06-22" {
		t.Errorf("Window = %s, want 2024-05-23..2024-06-22", got.Window)
	}
}

func TestAggregateLedgerAvailableIdentity(t *testing.T) {
	sets := [][]core.Transaction{
		nil,
		{row("A", "-10", "2024-06-01", false)},
		{row("A", "100", "2024-06-01", true), row("B", "-250", "2024-01-01", true)},
		{row("A", "0.01", "2020-01-01", true), row("B", "-0.02", "2030-01-01", false), row("C", "-7", "2024-06-01", true)},
	}
	for i, txs := range sets {
		got, err := AggregateLedger(txs, 1, at("2024-06-10"))
		if err != nil {
			t.Fatalf("set %d: AggregateLedger() error = %v", i, err)
		}
		want := got.TotalIncome.Sub(got.TotalExpenses).Sub(got.TotalPendingExpenses)
		if !got.Available.Equal(want) {
			t.Errorf("set %d: Available = %s, want %s", i, got.Available, want)
		}
	}
}

func TestAggregateLedgerRejectsInvalidSalaryDay(t *testing.T) {
	if _, err := AggregateLedger(nil, 32, at("2024-06-10")); !errors.Is(err, core.ErrValidation) {
		t.Errorf("AggregateLedger() error = %v, want validation error", err)
	}
}

func TestUpcomingRecurring(t *testing.T) {
	now := at("2024-06-10")
	txs := []core.Transaction{
		newTemplate("later", "-10", core.Monthly, "2024-01-01", datePtr("2024-06-05")), // 2024-07-05
		newTemplate("today", "-10", core.Monthly, "2024-01-01", datePtr("2024-05-10")), // 2024-06-10
		newTemplate("edge", "-10", core.Monthly, "2024-01-01", datePtr("2024-06-10")),  // 2024-07-10
		newTemplate("past", "-10", core.Monthly, "2024-01-01", datePtr("2024-05-01")),  // 2024-06-01
		newTemplate("far", "-10", core.Yearly, "2024-01-01", datePtr("2024-05-01")),    // 2025-05-01
		newTemplate("fromDate", "-10", core.Quarterly, "2024-03-20", nil),              // 2024-06-20
		row("Coffee", "-3", "2024-06-12", false),
	}

	got := UpcomingRecurring(txs, now)

	want := []string{"2024-06-10", "2024-06-20", "2024-07-05", "2024-07-10"}
	if len(got) != len(want) {
		t.Fatalf("UpcomingRecurring() returned %d payments, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].DueDate.String() != w {
			t.Errorf("payment %d due %s, want %s", i, got[i].DueDate, w)
		}
	}
}

func TestAggregateCategoryDistribution(t *testing.T) {
	window := core.SalaryMonth{StartDate: date("2024-05-23"), EndDate: date("2024-06-22")}
	food, home, foodDup := "cat-food", "cat-home", "cat-food-2"

	categories := []core.Category{
		{ID: food, Name: "Food", Color: "#F59E0B"},
		{ID: home, Name: "Home", Color: "#3B82F6"},
		{ID: foodDup, Name: "Food", Color: "#000000"},
	}
	merchants := []core.Merchant{
		{ID: "m1", Name: "Grocer", CategoryID: &food},
		{ID: "m2", Name: "Bakery", CategoryID: &foodDup},
		{ID: "m3", Name: "Hardware", CategoryID: &home},
		{ID: "m4", Name: "Mystery"},
	}
	txs := []core.Transaction{
		row("Grocer", "-40", "2024-06-01", true),
		row(" bakery ", "-10", "2024-06-02", true),
		row("Hardware", "-50", "2024-06-03", true),
		row("Mystery", "-5", "2024-06-03", true),
		row("", "-5", "2024-06-04", true),
		row("Grocer", "-999", "2024-04-01", true),   // outside window
		row("Grocer", "-999", "2024-06-01", false),  // unconfirmed
		row("Employer", "2500", "2024-06-01", true), // income
	}

	got := AggregateCategoryDistribution(txs, merchants, categories, window)

	want := []core.CategorySlice{
		{Name: "Food", Value: dec("50"), Color: "#F59E0B"},
		{Name: "Home", Value: dec("50"), Color: "#3B82F6"},
		{Name: core.UncategorizedName, Value: dec("10"), Color: core.UncategorizedColor},
	}
	if len(got) != len(want) {
		t.Fatalf("AggregateCategoryDistribution() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i].Name != want[i].Name || !got[i].Value.Equal(want[i].Value) || got[i].Color != want[i].Color {
			t.Errorf("slice %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLedgerServiceSummaryCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, row("Employer", "1000", "2024-06-01", true))

	summaries := cache.NewLRUCache[core.Summary](10, time.Hour)
	svc := NewLedgerService(store, summaries)

	first, err := svc.Summary(ctx, "user-1", 23, at("2024-06-10"))
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if !first.TotalIncome.Equal(dec("1000")) {
		t.Fatalf("TotalIncome = %s, want 1000", first.TotalIncome)
	}

	seed(t, store, row("Bonus", "500", "2024-06-02", true))

	cached, _ := svc.Summary(ctx, "user-1", 23, at("2024-06-10"))
	if !cached.TotalIncome.Equal(dec("1000")) {
		t.Errorf("cached TotalIncome = %s, want 1000", cached.TotalIncome)
	}

	svc.InvalidateUser("user-1")
	fresh, _ := svc.Summary(ctx, "user-1", 23, at("2024-06-10"))
	if !fresh.TotalIncome.Equal(dec("1500")) {
		t.Errorf("TotalIncome after invalidation = %s, want 1500", fresh.TotalIncome)
	}
}

// stallingStore hands out one transaction snapshot and then holds the
// caller until released, so writes can land while a summary is loading.
type stallingStore struct {
	*memory.Store
	once     sync.Once
	snapshot chan struct{}
	release  chan struct{}
}

func (s *stallingStore) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	txs, err := s.Store.ListTransactions(ctx, userID)
	s.once.Do(func() {
		close(s.snapshot)
		<-s.release
	})
	return txs, err
}

func TestLedgerServiceSummaryIgnoresLoadsOverlappingWrites(t *testing.T) {
	ctx := context.Background()
	store := &stallingStore{
		Store:    memory.New(),
		snapshot: make(chan struct{}),
		release:  make(chan struct{}),
	}

	svc := NewLedgerService(store, cache.NewLRUCache[core.Summary](10, time.Hour))
	txs := NewTransactionService(store)
	txs.OnWrite(svc.InvalidateUser)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Summary(ctx, "user-1", 23, at("2024-06-10"))
		done <- err
	}()

	<-store.snapshot
	if _, err := txs.Create(ctx, row("Employer", "100", "2024-06-01", true)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("Summary() error = %v", err)
	}

	got, err := svc.Summary(ctx, "user-1", 23, at("2024-06-10"))
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if !got.TotalIncome.Equal(dec("100")) {
		t.Errorf("TotalIncome after overlapping write = %s, want 100", got.TotalIncome)
	}
}

func TestLedgerServiceSummaryValidatesInput(t *testing.T) {
	svc := NewLedgerService(memory.New(), nil)
	if _, err := svc.Summary(context.Background(), "user-1", 0, at("2024-06-10")); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Summary(salaryDay=0) error = %v, want validation error", err)
	}
	if _, err := svc.Summary(context.Background(), " ", 10, at("2024-06-10")); !errors.Is(err, core.ErrValidation) {
		t.Errorf("Summary(empty user) error = %v, want validation error", err)
	}
}
