package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/storage"
)

const upcomingHorizonDays = 30

// AggregateLedger folds a user's rows into the totals for the salary month
// containing now. Available always equals
// TotalIncome - TotalExpenses - TotalPendingExpenses.
func AggregateLedger(txs []core.Transaction, salaryDay int, now time.Time) (core.Totals, error) {
	window, err := core.ComputeSalaryMonth(salaryDay, now)
	if err != nil {
		return core.Totals{}, err
	}

	totals := core.Totals{
		Window:               window,
		CurrentIncome:        decimal.Zero,
		CurrentExpenses:      decimal.Zero,
		TotalIncome:          decimal.Zero,
		TotalExpenses:        decimal.Zero,
		TotalPendingExpenses: decimal.Zero,
	}

	for _, tx := range txs {
		inWindow := window.Contains(tx.Date)
		switch classifyInWindow(tx, window) {
		case core.StatusConfirmed:
			if tx.Amount.IsPositive() {
				totals.TotalIncome = totals.TotalIncome.Add(tx.Amount)
				if inWindow {
					totals.CurrentIncome = totals.CurrentIncome.Add(tx.Amount)
				}
			} else if tx.Amount.IsNegative() {
				totals.TotalExpenses = totals.TotalExpenses.Add(tx.Amount.Abs())
				if inWindow {
					totals.CurrentExpenses = totals.CurrentExpenses.Add(tx.Amount.Abs())
				}
			}
		default:
			// Pending and unconfirmed rows alike count as money not yet cleared.
			if tx.Amount.IsNegative() {
				totals.TotalPendingExpenses = totals.TotalPendingExpenses.Add(tx.Amount.Abs())
			}
		}
	}

	totals.Available = totals.TotalIncome.Sub(totals.TotalExpenses.Add(totals.TotalPendingExpenses))
	totals.UpcomingRecurring = UpcomingRecurring(txs, now)
	return totals, nil
}

// UpcomingRecurring lists templates whose next due date lies within the next
// 30 days, today included, soonest first.
func UpcomingRecurring(txs []core.Transaction, now time.Time) []core.UpcomingPayment {
	today := core.DateOf(now)
	horizon := today.AddDays(upcomingHorizonDays)

	var out []core.UpcomingPayment
	for _, tx := range txs {
		if !tx.IsTemplate() {
			continue
		}
		due := NextDueDate(tx.Anchor(), tx.RecurringInterval)
		if due.Before(today) || due.After(horizon) {
			continue
		}
		out = append(out, core.UpcomingPayment{Template: tx, DueDate: due})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out
}

// AggregateCategoryDistribution sums confirmed expenses inside window per
// category name. Rows whose merchant has no resolvable category land in the
// Uncategorized bucket. Slices are ordered by value, largest first.
func AggregateCategoryDistribution(txs []core.Transaction, merchants []core.Merchant, categories []core.Category, window core.SalaryMonth) []core.CategorySlice {
	byCategoryID := make(map[string]core.Category, len(categories))
	for _, c := range categories {
		byCategoryID[c.ID] = c
	}
	categoryOf := make(map[string]core.Category, len(merchants)*2)
	for _, m := range merchants {
		if m.CategoryID == nil {
			continue
		}
		c, ok := byCategoryID[*m.CategoryID]
		if !ok {
			continue
		}
		categoryOf[m.ID] = c
		categoryOf[merchantKey(m.Name)] = c
	}

	index := make(map[string]int)
	var out []core.CategorySlice
	for _, tx := range txs {
		if !tx.IsConfirmed || !tx.Amount.IsNegative() || !window.Contains(tx.Date) {
			continue
		}
		name, color := core.UncategorizedName, core.UncategorizedColor
		if c, ok := lookupCategory(categoryOf, tx.Merchant); ok {
			name, color = c.Name, c.Color
		}
		if i, seen := index[name]; seen {
			out[i].Value = out[i].Value.Add(tx.Amount.Abs())
			continue
		}
		index[name] = len(out)
		out = append(out, core.CategorySlice{Name: name, Value: tx.Amount.Abs(), Color: color})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Value.Cmp(out[j].Value); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func lookupCategory(categoryOf map[string]core.Category, merchant string) (core.Category, bool) {
	if merchant == "" {
		return core.Category{}, false
	}
	if c, ok := categoryOf[merchant]; ok {
		return c, true
	}
	c, ok := categoryOf[merchantKey(merchant)]
	return c, ok
}

func merchantKey(name string) string {
	return "name:" + strings.ToLower(strings.TrimSpace(name))
}

// LedgerService assembles summaries from storage and caches them per user.
// A per-user generation counter, bumped on every invalidation, keeps a load
// that started before a write from refilling the cache afterwards.
type LedgerService struct {
	store storage.Store
	cache cache.Cache[core.Summary]
	group singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
}

func NewLedgerService(store storage.Store, summaries cache.Cache[core.Summary]) *LedgerService {
	return &LedgerService{store: store, cache: summaries, generations: make(map[string]uint64)}
}

// Summary returns totals, category breakdown and upcoming payments for the
// salary month containing now.
func (s *LedgerService) Summary(ctx context.Context, userID string, salaryDay int, now time.Time) (core.Summary, error) {
	if err := core.ValidateSalaryDay(salaryDay); err != nil {
		return core.Summary{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return core.Summary{}, core.NewValidationError("user_id", "cannot be empty")
	}

	key := summaryKey(userID, salaryDay, core.DateOf(now))
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			slog.DebugContext(ctx, "Summary cache hit", "user_id", userID)
			return cached, nil
		}
	}

	gen := s.generation(userID)
	v, err, _ := s.group.Do(key+"|"+strconv.FormatUint(gen, 10), func() (any, error) {
		return s.load(ctx, userID, salaryDay, now)
	})
	if err != nil {
		return core.Summary{}, err
	}
	summary := v.(core.Summary)
	if s.cache != nil && s.generation(userID) == gen {
		s.cache.Set(key, summary)
	}
	return summary, nil
}

func (s *LedgerService) load(ctx context.Context, userID string, salaryDay int, now time.Time) (core.Summary, error) {
	var (
		txs        []core.Transaction
		merchants  []core.Merchant
		categories []core.Category
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, err = s.store.ListTransactions(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		merchants, err = s.store.ListMerchantsWithCategory(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		categories, err = s.store.ListCategories(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return core.Summary{}, err
	}

	totals, err := AggregateLedger(txs, salaryDay, now)
	if err != nil {
		return core.Summary{}, fmt.Errorf("aggregate ledger: %w", err)
	}
	return core.Summary{
		Totals:       totals,
		Distribution: AggregateCategoryDistribution(txs, merchants, categories, totals.Window),
	}, nil
}

func (s *LedgerService) generation(userID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[userID]
}

// InvalidateUser drops every cached summary of userID. Loads already in
// flight for userID will not be cached.
func (s *LedgerService) InvalidateUser(userID string) {
	s.mu.Lock()
	s.generations[userID]++
	s.mu.Unlock()

	if s.cache == nil {
		return
	}
	if n := s.cache.DeletePrefix(userID + "|"); n > 0 {
		slog.Debug("Summary cache invalidated", "user_id", userID, "entries", n)
	}
}

func summaryKey(userID string, salaryDay int, day core.Date) string {
	return userID + "|" + strconv.Itoa(salaryDay) + "|" + day.String()
}
