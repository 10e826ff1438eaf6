package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Monthly   Interval = "monthly"
	Quarterly Interval = "quarterly"
	Yearly    Interval = "yearly"
)

const dateLayout = "2006-01-02"

type (
	Interval string

	Date struct {
		time.Time
	}

	Transaction struct {
		ID                  string
		UserID              string
		Merchant            string
		Description         string
		Amount              decimal.Decimal // positive = income, negative = expense
		Date                Date
		IsConfirmed         bool
		IsRecurring         bool
		RecurringInterval   Interval
		LastConfirmedDate   *Date
		Version             int64
		ParentTransactionID *string
		WindowStart         *Date // salary-month start an instance was materialized for
		CreatedAt           time.Time
	}

	Category struct {
		ID    string
		Name  string
		Color string
	}

	Merchant struct {
		ID         string
		Name       string
		CategoryID *string
	}
)

var (
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyUser        = errors.New("empty user id")
	ErrZeroAmount       = errors.New("amount cannot be zero")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, NewValidationError("date", "must be in YYYY-MM-DD format")
	}
	return Date{Time: t}, nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// Before and After compare calendar dates.
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) After(o Date) bool  { return d.Time.After(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

// AddDays shifts the date by n calendar days.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// AddMonths shifts the date by n months, clamping the day to the last day of
// the target month (Jan 31 + 1 month = Feb 28/29).
func (d Date) AddMonths(n int) Date {
	first := time.Date(d.Year(), time.Month(d.Month())+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	day := d.Day()
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return NewDate(first.Year(), int(first.Month()), day)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseInterval converts a stored or user-supplied value into an Interval.
func ParseInterval(s string) (Interval, error) {
	i := Interval(strings.ToLower(strings.TrimSpace(s)))
	if !i.IsValid() {
		return "", NewValidationError("recurring_interval", "unrecognized interval "+s)
	}
	return i, nil
}

func (i Interval) IsValid() bool {
	switch i {
	case Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

// IsTemplate reports whether the row represents a repeating obligation.
func (t Transaction) IsTemplate() bool {
	return t.IsRecurring
}

// IsInstance reports whether the row was materialized from a template.
func (t Transaction) IsInstance() bool {
	return !t.IsRecurring && t.ParentTransactionID != nil
}

// Anchor is the date the next occurrence is computed from.
func (t Transaction) Anchor() Date {
	if t.LastConfirmedDate != nil {
		return *t.LastConfirmedDate
	}
	return t.Date
}

// Clone returns a copy that shares no pointers with t.
func (t Transaction) Clone() Transaction {
	c := t
	if t.LastConfirmedDate != nil {
		d := *t.LastConfirmedDate
		c.LastConfirmedDate = &d
	}
	if t.ParentTransactionID != nil {
		p := *t.ParentTransactionID
		c.ParentTransactionID = &p
	}
	if t.WindowStart != nil {
		w := *t.WindowStart
		c.WindowStart = &w
	}
	return c
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUser
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return NewValidationError("description", "too long (max 200 characters)")
	}
	if t.Amount.IsZero() {
		return ErrZeroAmount
	}
	if t.Date.IsZero() {
		return NewValidationError("date", "cannot be zero")
	}
	if t.Version < 1 {
		return NewValidationError("version", "must be at least 1")
	}
	if t.IsRecurring {
		if !t.RecurringInterval.IsValid() {
			return NewValidationError("recurring_interval", "unrecognized interval "+string(t.RecurringInterval))
		}
		if t.ParentTransactionID != nil {
			return NewValidationError("is_recurring", "materialized instances cannot recur")
		}
	}
	return nil
}
