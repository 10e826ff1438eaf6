package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

const maxBodyBytes = 1 << 20

// errMalformedBody marks request bodies that are not valid JSON.
var errMalformedBody = errors.New("malformed request body")

func parseSalaryDay(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("salary_day"))
	if raw == "" {
		return 0, core.NewValidationError("salary_day", "is required")
	}
	day, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.NewValidationError("salary_day", "must be an integer")
	}
	return day, core.ValidateSalaryDay(day)
}

// parseNow reads the optional now parameter. Both a plain date and an
// RFC3339 timestamp are accepted; dates resolve to noon UTC.
func parseNow(r *http.Request, fallback time.Time) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("now"))
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := core.ParseDate(raw)
	if err != nil {
		return time.Time{}, core.NewValidationError("now", "must be YYYY-MM-DD or RFC3339")
	}
	return d.Time.Add(12 * time.Hour), nil
}

func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}

// flexibleAmount accepts "12.50", "12,50" or 12.5.
type flexibleAmount struct {
	raw string
}

func (a *flexibleAmount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		a.raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a string or number")
	}
	a.raw = n.String()
	return nil
}

func (a flexibleAmount) Decimal() (decimal.Decimal, error) {
	return core.ParseAmount(a.raw)
}

type createTransactionRequest struct {
	Merchant          string         `json:"merchant"`
	Description       string         `json:"description"`
	Amount            flexibleAmount `json:"amount"`
	Date              string         `json:"date"`
	IsConfirmed       bool           `json:"is_confirmed"`
	IsRecurring       bool           `json:"is_recurring"`
	RecurringInterval string         `json:"recurring_interval"`
}

func (req createTransactionRequest) toTransaction(userID string) (core.Transaction, error) {
	amount, err := req.Amount.Decimal()
	if err != nil {
		return core.Transaction{}, err
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Transaction{}, err
	}
	tx := core.Transaction{
		UserID:      userID,
		Merchant:    strings.TrimSpace(req.Merchant),
		Description: strings.TrimSpace(req.Description),
		Amount:      amount,
		Date:        date,
		IsConfirmed: req.IsConfirmed,
		IsRecurring: req.IsRecurring,
	}
	if req.IsRecurring {
		interval, err := core.ParseInterval(req.RecurringInterval)
		if err != nil {
			return core.Transaction{}, err
		}
		tx.RecurringInterval = interval
	}
	return tx, nil
}

type confirmRequest struct {
	Date string `json:"date"`
}

type settingsRequest struct {
	SalaryDay int `json:"salary_day"`
}
