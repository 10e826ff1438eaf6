package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
	"ledger/internal/storage"
)

var errDuplicateID = errors.New("duplicate transaction id")

type windowKey struct {
	templateID  string
	windowStart string
}

// Store keeps rows in process memory. Rows are keyed by id; lineage is
// resolved by scanning parent ids, never by following pointers.
type Store struct {
	mu         sync.Mutex
	rows       map[string]core.Transaction
	windows    map[windowKey]string
	merchants  map[string][]core.Merchant
	categories map[string][]core.Category
	settings   map[string]int
}

func New() *Store {
	return &Store{
		rows:       make(map[string]core.Transaction),
		windows:    make(map[windowKey]string),
		merchants:  make(map[string][]core.Merchant),
		categories: make(map[string][]core.Category),
		settings:   make(map[string]int),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Close() error { return nil }

func (s *Store) ListTransactions(_ context.Context, userID string) ([]core.Transaction, error) {
	return s.filter(func(tx core.Transaction) bool { return tx.UserID == userID }), nil
}

func (s *Store) ListRecurringTemplates(_ context.Context, userID string) ([]core.Transaction, error) {
	return s.filter(func(tx core.Transaction) bool { return tx.UserID == userID && tx.IsTemplate() }), nil
}

func (s *Store) FindTransaction(_ context.Context, id string) (*core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	c := tx.Clone()
	return &c, nil
}

// CreateTransaction stores tx. A second instance for the same template and
// window is rejected with a ConflictError.
func (s *Store) CreateTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Version == 0 {
		tx.Version = 1
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	var key *windowKey
	if tx.ParentTransactionID != nil && tx.WindowStart != nil {
		key = &windowKey{templateID: *tx.ParentTransactionID, windowStart: tx.WindowStart.String()}
		if _, taken := s.windows[*key]; taken {
			return core.Transaction{}, &core.ConflictError{TemplateID: key.templateID, WindowStart: *tx.WindowStart}
		}
	}
	if _, taken := s.rows[tx.ID]; taken {
		return core.Transaction{}, &core.StorageError{Op: "create transaction", Err: errDuplicateID}
	}

	s.rows[tx.ID] = tx.Clone()
	if key != nil {
		s.windows[*key] = tx.ID
	}
	return tx.Clone(), nil
}

func (s *Store) UpdateTransactionFields(_ context.Context, id string, patch storage.TransactionPatch) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.rows[id]
	if !ok {
		return core.Transaction{}, &core.NotFoundError{Kind: "transaction", ID: id}
	}
	tx = tx.Clone()
	patch.Apply(&tx)
	s.rows[id] = tx
	return tx.Clone(), nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.rows[id]
	if !ok {
		return &core.NotFoundError{Kind: "transaction", ID: id}
	}
	if tx.ParentTransactionID != nil && tx.WindowStart != nil {
		delete(s.windows, windowKey{templateID: *tx.ParentTransactionID, windowStart: tx.WindowStart.String()})
	}
	delete(s.rows, id)
	return nil
}

func (s *Store) MaxLineageVersion(_ context.Context, templateID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var highest int64
	for _, tx := range s.rows {
		inLineage := tx.ID == templateID || (tx.ParentTransactionID != nil && *tx.ParentTransactionID == templateID)
		if inLineage && tx.Version > highest {
			highest = tx.Version
		}
	}
	return highest, nil
}

func (s *Store) FindInstanceForWindow(_ context.Context, templateID string, windowStart core.Date) (*core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.windows[windowKey{templateID: templateID, windowStart: windowStart.String()}]
	if !ok {
		return nil, nil
	}
	tx := s.rows[id].Clone()
	return &tx, nil
}

func (s *Store) ListMerchantsWithCategory(_ context.Context, userID string) ([]core.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Merchant(nil), s.merchants[userID]...), nil
}

func (s *Store) ListCategories(_ context.Context, userID string) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Category(nil), s.categories[userID]...), nil
}

func (s *Store) CreateCategory(_ context.Context, userID string, c core.Category) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.categories[userID] = append(s.categories[userID], c)
	return c, nil
}

func (s *Store) CreateMerchant(_ context.Context, userID string, m core.Merchant) (core.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.merchants[userID] = append(s.merchants[userID], m)
	return m, nil
}

func (s *Store) ListUserSettings(_ context.Context) ([]storage.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.UserSettings, 0, len(s.settings))
	for userID, day := range s.settings {
		out = append(out, storage.UserSettings{UserID: userID, SalaryDay: day})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) UpsertUserSettings(_ context.Context, us storage.UserSettings) error {
	if err := core.ValidateSalaryDay(us.SalaryDay); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[us.UserID] = us.SalaryDay
	return nil
}

// filter returns matching rows ordered by date then creation time.
func (s *Store) filter(keep func(core.Transaction) bool) []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Transaction
	for _, tx := range s.rows {
		if keep(tx) {
			out = append(out, tx.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
