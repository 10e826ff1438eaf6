package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"ledger/internal/core"
)

const dateLayout = "2006-01-02"

const transactionColumns = `id, user_id, merchant, description, amount, date, is_confirmed, is_recurring,
	recurring_interval, last_confirmed_date, version, parent_transaction_id, window_start, created_at`

type SQLiteRepository struct {
	db *sql.DB
}

var _ Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("sqlite database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations before the main pool opens the file
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// ListTransactions returns every row owned by the user, oldest first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, "list transactions",
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? ORDER BY date, created_at`, userID)
}

// ListRecurringTemplates returns the user's recurring templates.
func (r *SQLiteRepository) ListRecurringTemplates(ctx context.Context, userID string) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, "list recurring templates",
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = ? AND is_recurring = 1 ORDER BY date, created_at`, userID)
}

func (r *SQLiteRepository) FindTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &core.StorageError{Op: "find transaction", Err: err}
	}
	return &tx, nil
}

// CreateTransaction inserts tx, assigning an id, version and creation time
// when they are unset.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Version == 0 {
		tx.Version = 1
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.UserID,
		tx.Merchant,
		tx.Description,
		tx.Amount.String(),
		tx.Date.String(),
		tx.IsConfirmed,
		tx.IsRecurring,
		nullString(string(tx.RecurringInterval)),
		nullDate(tx.LastConfirmedDate),
		tx.Version,
		nullStringPtr(tx.ParentTransactionID),
		nullDate(tx.WindowStart),
		tx.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) && strings.Contains(err.Error(), "window_start") && tx.ParentTransactionID != nil && tx.WindowStart != nil {
			return core.Transaction{}, &core.ConflictError{TemplateID: *tx.ParentTransactionID, WindowStart: *tx.WindowStart}
		}
		return core.Transaction{}, &core.StorageError{Op: "create transaction", Err: err}
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", tx.ID,
		"user_id", tx.UserID,
		"amount", tx.Amount.String(),
		"date", tx.Date.String(),
		"version", tx.Version)

	return tx, nil
}

// UpdateTransactionFields writes the non-nil fields of patch and returns the
// updated row.
func (r *SQLiteRepository) UpdateTransactionFields(ctx context.Context, id string, patch TransactionPatch) (core.Transaction, error) {
	var (
		sets []string
		args []any
	)
	if patch.Merchant != nil {
		sets = append(sets, "merchant = ?")
		args = append(args, *patch.Merchant)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.IsConfirmed != nil {
		sets = append(sets, "is_confirmed = ?")
		args = append(args, *patch.IsConfirmed)
	}
	if patch.ClearLastConfirmedDate {
		sets = append(sets, "last_confirmed_date = NULL")
	} else if patch.LastConfirmedDate != nil {
		sets = append(sets, "last_confirmed_date = ?")
		args = append(args, patch.LastConfirmedDate.String())
	}

	if len(sets) > 0 {
		args = append(args, id)
		res, err := r.db.ExecContext(ctx, `UPDATE transactions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return core.Transaction{}, &core.StorageError{Op: "update transaction", Err: err}
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return core.Transaction{}, &core.NotFoundError{Kind: "transaction", ID: id}
		}
	}

	tx, err := r.FindTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if tx == nil {
		return core.Transaction{}, &core.NotFoundError{Kind: "transaction", ID: id}
	}
	return *tx, nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return &core.StorageError{Op: "delete transaction", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &core.NotFoundError{Kind: "transaction", ID: id}
	}
	return nil
}

// MaxLineageVersion returns the highest version across the template and its
// instances, or 0 when the template does not exist.
func (r *SQLiteRepository) MaxLineageVersion(ctx context.Context, templateID string) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM transactions WHERE id = ? OR parent_transaction_id = ?`,
		templateID, templateID).Scan(&v)
	if err != nil {
		return 0, &core.StorageError{Op: "max lineage version", Err: err}
	}
	return v, nil
}

func (r *SQLiteRepository) FindInstanceForWindow(ctx context.Context, templateID string, windowStart core.Date) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE parent_transaction_id = ? AND window_start = ?`,
		templateID, windowStart.String())
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &core.StorageError{Op: "find instance for window", Err: err}
	}
	return &tx, nil
}

func (r *SQLiteRepository) ListMerchantsWithCategory(ctx context.Context, userID string) ([]core.Merchant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, category_id FROM merchants WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, &core.StorageError{Op: "list merchants", Err: err}
	}
	defer rows.Close()

	var merchants []core.Merchant
	for rows.Next() {
		var (
			m          core.Merchant
			categoryID sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Name, &categoryID); err != nil {
			return nil, &core.StorageError{Op: "scan merchant", Err: err}
		}
		if categoryID.Valid {
			m.CategoryID = &categoryID.String
		}
		merchants = append(merchants, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.StorageError{Op: "list merchants", Err: err}
	}
	return merchants, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, color FROM categories WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, &core.StorageError{Op: "list categories", Err: err}
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Color); err != nil {
			return nil, &core.StorageError{Op: "scan category", Err: err}
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.StorageError{Op: "list categories", Err: err}
	}
	return categories, nil
}

func (r *SQLiteRepository) CreateCategory(ctx context.Context, userID string, c core.Category) (core.Category, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (id, user_id, name, color, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, userID, c.Name, c.Color, time.Now().UTC().UnixMilli())
	if err != nil {
		return core.Category{}, &core.StorageError{Op: "create category", Err: err}
	}
	return c, nil
}

func (r *SQLiteRepository) CreateMerchant(ctx context.Context, userID string, m core.Merchant) (core.Merchant, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO merchants (id, user_id, name, category_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, userID, m.Name, nullStringPtr(m.CategoryID), time.Now().UTC().UnixMilli())
	if err != nil {
		return core.Merchant{}, &core.StorageError{Op: "create merchant", Err: err}
	}
	return m, nil
}

func (r *SQLiteRepository) ListUserSettings(ctx context.Context) ([]UserSettings, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, salary_day FROM user_settings ORDER BY user_id`)
	if err != nil {
		return nil, &core.StorageError{Op: "list user settings", Err: err}
	}
	defer rows.Close()

	var out []UserSettings
	for rows.Next() {
		var s UserSettings
		if err := rows.Scan(&s.UserID, &s.SalaryDay); err != nil {
			return nil, &core.StorageError{Op: "scan user settings", Err: err}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.StorageError{Op: "list user settings", Err: err}
	}
	return out, nil
}

func (r *SQLiteRepository) UpsertUserSettings(ctx context.Context, s UserSettings) error {
	if err := core.ValidateSalaryDay(s.SalaryDay); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, salary_day) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET salary_day = excluded.salary_day`,
		s.UserID, s.SalaryDay)
	if err != nil {
		return &core.StorageError{Op: "upsert user settings", Err: err}
	}
	return nil
}

func (r *SQLiteRepository) queryTransactions(ctx context.Context, op, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &core.StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, &core.StorageError{Op: op, Err: err}
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.StorageError{Op: op, Err: err}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (core.Transaction, error) {
	var (
		tx                core.Transaction
		amount            string
		date              string
		interval          sql.NullString
		lastConfirmedDate sql.NullString
		parentID          sql.NullString
		windowStart       sql.NullString
		createdAt         int64
	)
	err := s.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Merchant,
		&tx.Description,
		&amount,
		&date,
		&tx.IsConfirmed,
		&tx.IsRecurring,
		&interval,
		&lastConfirmedDate,
		&tx.Version,
		&parentID,
		&windowStart,
		&createdAt,
	)
	if err != nil {
		return core.Transaction{}, err
	}

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	tx.Date = core.Date{Time: d}
	tx.RecurringInterval = core.Interval(interval.String)
	if tx.LastConfirmedDate, err = parseNullDate(lastConfirmedDate); err != nil {
		return core.Transaction{}, err
	}
	if tx.WindowStart, err = parseNullDate(windowStart); err != nil {
		return core.Transaction{}, err
	}
	if parentID.Valid {
		tx.ParentTransactionID = &parentID.String
	}
	tx.CreatedAt = time.UnixMilli(createdAt).UTC()
	return tx, nil
}

func parseNullDate(v sql.NullString) (*core.Date, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", v.String, err)
	}
	return &core.Date{Time: t}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDate(d *core.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
