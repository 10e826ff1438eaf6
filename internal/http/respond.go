package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ledger/internal/core"
	"ledger/internal/log"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	logger := log.FromContext(r.Context())
	logger.WarnContext(r.Context(), "Request rejected",
		log.FieldStatusCode, status,
		log.FieldErrorType, log.ErrorType(status),
		log.FieldError, msg)
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps domain error kinds onto transport status codes. Storage
// and unexpected failures are logged in full and reported generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: verr.Message, Field: verr.Field})
	case core.IsValidation(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request timed out", log.FieldError, err)
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "request timed out"})
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeInternal)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

type windowDTO struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func toWindowDTO(w core.SalaryMonth) windowDTO {
	return windowDTO{StartDate: w.StartDate.String(), EndDate: w.EndDate.String()}
}

type transactionDTO struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	Merchant            string    `json:"merchant"`
	Description         string    `json:"description"`
	Amount              string    `json:"amount"`
	Date                string    `json:"date"`
	IsConfirmed         bool      `json:"is_confirmed"`
	IsRecurring         bool      `json:"is_recurring"`
	RecurringInterval   string    `json:"recurring_interval,omitempty"`
	LastConfirmedDate   *string   `json:"last_confirmed_date"`
	Version             int64     `json:"version"`
	ParentTransactionID *string   `json:"parent_transaction_id"`
	WindowStart         *string   `json:"window_start,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

func dateString(d *core.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func toTransactionDTO(tx core.Transaction) transactionDTO {
	return transactionDTO{
		ID:                  tx.ID,
		UserID:              tx.UserID,
		Merchant:            tx.Merchant,
		Description:         tx.Description,
		Amount:              core.FormatAmount(tx.Amount),
		Date:                tx.Date.String(),
		IsConfirmed:         tx.IsConfirmed,
		IsRecurring:         tx.IsRecurring,
		RecurringInterval:   string(tx.RecurringInterval),
		LastConfirmedDate:   dateString(tx.LastConfirmedDate),
		Version:             tx.Version,
		ParentTransactionID: tx.ParentTransactionID,
		WindowStart:         dateString(tx.WindowStart),
		CreatedAt:           tx.CreatedAt,
	}
}

type categorySliceDTO struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Color string `json:"color"`
}

type upcomingDTO struct {
	Template transactionDTO `json:"template"`
	DueDate  string         `json:"due_date"`
}

type summaryDTO struct {
	Window               windowDTO          `json:"window"`
	CurrentIncome        string             `json:"current_income"`
	CurrentExpenses      string             `json:"current_expenses"`
	TotalIncome          string             `json:"total_income"`
	TotalExpenses        string             `json:"total_expenses"`
	TotalPendingExpenses string             `json:"total_pending_expenses"`
	Available            string             `json:"available"`
	UpcomingRecurring    []upcomingDTO      `json:"upcoming_recurring"`
	Distribution         []categorySliceDTO `json:"category_distribution"`
}

func toSummaryDTO(s core.Summary) summaryDTO {
	out := summaryDTO{
		Window:               toWindowDTO(s.Window),
		CurrentIncome:        core.FormatAmount(s.CurrentIncome),
		CurrentExpenses:      core.FormatAmount(s.CurrentExpenses),
		TotalIncome:          core.FormatAmount(s.TotalIncome),
		TotalExpenses:        core.FormatAmount(s.TotalExpenses),
		TotalPendingExpenses: core.FormatAmount(s.TotalPendingExpenses),
		Available:            core.FormatAmount(s.Available),
		UpcomingRecurring:    make([]upcomingDTO, 0, len(s.UpcomingRecurring)),
		Distribution:         make([]categorySliceDTO, 0, len(s.Distribution)),
	}
	for _, u := range s.UpcomingRecurring {
		out.UpcomingRecurring = append(out.UpcomingRecurring, upcomingDTO{
			Template: toTransactionDTO(u.Template),
			DueDate:  u.DueDate.String(),
		})
	}
	for _, c := range s.Distribution {
		out.Distribution = append(out.Distribution, categorySliceDTO{
			Name:  c.Name,
			Value: core.FormatAmount(c.Value),
			Color: c.Color,
		})
	}
	return out
}
