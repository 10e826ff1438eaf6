package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/storage"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
	Requests  int64  `json:"requests"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Requests:  s.tracer.GetMetrics().TotalRequests,
	})
}

func (s *Server) handleSalaryMonth(w http.ResponseWriter, r *http.Request) {
	salaryDay, err := parseSalaryDay(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now, err := parseNow(r, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	window, err := core.ComputeSalaryMonth(salaryDay, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWindowDTO(window))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := core.ValidateSalaryDay(req.SalaryDay); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Settings.UpsertUserSettings(r.Context(), storage.UserSettings{UserID: userID, SalaryDay: req.SalaryDay}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "salary_day": req.SalaryDay})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	salaryDay, err := parseSalaryDay(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now, err := parseNow(r, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := s.svc.Ledger.Summary(r.Context(), r.PathValue("userID"), salaryDay, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := req.toTransaction(r.PathValue("userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.svc.Transactions.Create(r.Context(), tx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(created))
}

type statusResponse struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Window      windowDTO `json:"window"`
	NextDueDate *string   `json:"next_due_date,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	salaryDay, err := parseSalaryDay(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now, err := parseNow(r, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := s.svc.Transactions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tx.UserID != r.PathValue("userID") {
		writeError(w, r, &core.NotFoundError{Kind: "transaction", ID: tx.ID})
		return
	}

	status, err := services.ClassifyStatus(tx, salaryDay, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	window, err := core.ComputeSalaryMonth(salaryDay, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := statusResponse{ID: tx.ID, Status: string(status), Window: toWindowDTO(window)}
	if tx.IsTemplate() {
		due := services.NextDueDate(tx.Anchor(), tx.RecurringInterval)
		resp.NextDueDate = dateString(&due)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var at *core.Date
	if strings.TrimSpace(req.Date) != "" {
		d, err := core.ParseDate(req.Date)
		if err != nil {
			writeError(w, r, err)
			return
		}
		at = &d
	}
	tx, err := s.svc.Transactions.Confirm(r.Context(), r.PathValue("id"), at)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction confirmed",
		log.FieldOperation, log.OpConfirm,
		log.FieldUserID, tx.UserID)
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func (s *Server) handleUnconfirm(w http.ResponseWriter, r *http.Request) {
	tx, err := s.svc.Transactions.Unconfirm(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Transactions.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMaterializeTemplate(w http.ResponseWriter, r *http.Request) {
	instance, err := s.svc.Materializer.MaterializeByID(r.Context(), r.PathValue("id"), s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(instance))
}

type materializeUserResponse struct {
	UserID  string    `json:"user_id"`
	Window  windowDTO `json:"window"`
	Created int       `json:"created"`
}

func (s *Server) handleMaterializeUser(w http.ResponseWriter, r *http.Request) {
	salaryDay, err := parseSalaryDay(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now, err := parseNow(r, s.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	window, err := core.ComputeSalaryMonth(salaryDay, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID := r.PathValue("userID")
	created, err := s.svc.Processor.ProcessUser(r.Context(), userID, salaryDay, now)
	if err != nil && !errors.Is(err, core.ErrConflict) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, materializeUserResponse{
		UserID:  userID,
		Window:  toWindowDTO(window),
		Created: created,
	})
}
