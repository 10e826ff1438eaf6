package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/cache"
	"ledger/internal/core"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/services"
	"ledger/internal/storage/memory"
)

func newTestServer(t *testing.T, limit int) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	ledger := services.NewLedgerService(store, cache.NewLRUCache[core.Summary](16, time.Minute))
	txs := services.NewTransactionService(store)
	txs.OnWrite(ledger.InvalidateUser)
	mat := services.NewMaterializer(store, nil)
	mat.OnWrite(ledger.InvalidateUser)
	proc := services.NewRecurringProcessor(store, mat, nil, services.DefaultRecurringProcessorConfig())

	srv, err := NewServer(":0", Services{
		Ledger:       ledger,
		Transactions: txs,
		Materializer: mat,
		Processor:    proc,
		Settings:     store,
	}, Options{RateLimit: ratelimit.Config{Requests: limit, Window: time.Minute}})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	srv.now = func() time.Time { return time.Date(2024, 6, 25, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	rr := do(t, srv, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decode[healthResponse](t, rr); got.Status != "healthy" {
		t.Errorf("status field = %q", got.Status)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers not applied")
	}
}

func TestSalaryMonth(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantStart  string
		wantEnd    string
	}{
		{"mid window", "salary_day=23&now=2024-06-10", http.StatusOK, "2024-05-23", "2024-06-22"},
		{"on payday", "salary_day=23&now=2024-06-23", http.StatusOK, "2024-06-23", "2024-07-22"},
		{"rfc3339", "salary_day=1&now=2024-02-10T08:00:00Z", http.StatusOK, "2024-02-01", "2024-02-29"},
		{"missing salary day", "now=2024-06-10", http.StatusUnprocessableEntity, "", ""},
		{"salary day out of range", "salary_day=32", http.StatusUnprocessableEntity, "", ""},
		{"bad now", "salary_day=5&now=yesterday", http.StatusUnprocessableEntity, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodGet, "/api/salary-month?"+tt.query, "")
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			got := decode[windowDTO](t, rr)
			if got.StartDate != tt.wantStart || got.EndDate != tt.wantEnd {
				t.Errorf("window = %+v, want %s..%s", got, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestCreateTransaction(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"expense as string", `{"description":"Lunch","merchant":"Deli","amount":"-12,50","date":"2024-06-10"}`, http.StatusCreated},
		{"income as number", `{"description":"Salary","amount":2500,"date":"2024-06-23","is_confirmed":true}`, http.StatusCreated},
		{"recurring", `{"description":"Rent","amount":"-900","date":"2024-01-23","is_recurring":true,"recurring_interval":"monthly"}`, http.StatusCreated},
		{"zero amount", `{"description":"Nothing","amount":"0","date":"2024-06-10"}`, http.StatusUnprocessableEntity},
		{"empty description", `{"description":"  ","amount":"-1","date":"2024-06-10"}`, http.StatusUnprocessableEntity},
		{"bad date", `{"description":"Lunch","amount":"-1","date":"10/06/2024"}`, http.StatusUnprocessableEntity},
		{"unknown interval", `{"description":"Gym","amount":"-30","date":"2024-06-01","is_recurring":true,"recurring_interval":"weekly"}`, http.StatusUnprocessableEntity},
		{"malformed json", `{"description":`, http.StatusBadRequest},
		{"unknown field", `{"description":"Lunch","amount":"-1","date":"2024-06-10","color":"red"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/users/alice/transactions", tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}

	rr := do(t, srv, http.MethodPost, "/api/users/alice/transactions",
		`{"description":"Coffee","amount":"-3.456","date":"2024-06-10"}`)
	got := decode[transactionDTO](t, rr)
	if got.Amount != "-3.46" || got.UserID != "alice" || got.Version != 1 || got.ID == "" {
		t.Errorf("created = %+v", got)
	}
}

func TestConfirmUnconfirmAndStatus(t *testing.T) {
	srv, _ := newTestServer(t, 100)

	rr := do(t, srv, http.MethodPost, "/api/users/alice/transactions",
		`{"description":"Rent","merchant":"Landlord","amount":"-900","date":"2024-01-23","is_recurring":true,"recurring_interval":"monthly"}`)
	rent := decode[transactionDTO](t, rr)

	status := func(now string) statusResponse {
		t.Helper()
		rr := do(t, srv, http.MethodGet, "/api/users/alice/transactions/"+rent.ID+"/status?salary_day=23&now="+now, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status endpoint = %d (%s)", rr.Code, rr.Body.String())
		}
		return decode[statusResponse](t, rr)
	}

	if got := status("2024-06-10"); got.Status != string(core.StatusPending) {
		t.Errorf("never confirmed status = %q, want pending", got.Status)
	}

	rr = do(t, srv, http.MethodPost, "/api/transactions/"+rent.ID+"/confirm", `{"date":"2024-05-23"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm = %d (%s)", rr.Code, rr.Body.String())
	}
	confirmed := decode[transactionDTO](t, rr)
	if !confirmed.IsConfirmed || confirmed.LastConfirmedDate == nil || *confirmed.LastConfirmedDate != "2024-05-23" {
		t.Errorf("confirmed = %+v", confirmed)
	}
	if got := status("2024-06-10"); got.Status != string(core.StatusConfirmed) ||
		got.NextDueDate == nil || *got.NextDueDate != "2024-06-23" {
		t.Errorf("after confirm = %+v", got)
	}

	rr = do(t, srv, http.MethodPost, "/api/transactions/"+rent.ID+"/unconfirm", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unconfirm = %d", rr.Code)
	}
	if got := decode[transactionDTO](t, rr); got.IsConfirmed || got.LastConfirmedDate != nil {
		t.Errorf("unconfirmed = %+v", got)
	}

	// Another user's id is not visible.
	rr = do(t, srv, http.MethodGet, "/api/users/bob/transactions/"+rent.ID+"/status?salary_day=23", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("foreign status = %d, want 404", rr.Code)
	}
	rr = do(t, srv, http.MethodPost, "/api/transactions/missing/confirm", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing confirm = %d, want 404", rr.Code)
	}
}

func TestSummaryReflectsWrites(t *testing.T) {
	srv, store := newTestServer(t, 100)
	ctx := context.Background()

	groceries, _ := store.CreateCategory(ctx, "alice", core.Category{Name: "Groceries", Color: "#10B981"})
	_, _ = store.CreateMerchant(ctx, "alice", core.Merchant{Name: "Grocer", CategoryID: &groceries.ID})

	for _, body := range []string{
		`{"description":"Salary","amount":"2500","date":"2024-06-23","is_confirmed":true}`,
		`{"description":"Food","merchant":"Grocer","amount":"-120.50","date":"2024-06-24","is_confirmed":true}`,
		`{"description":"Taxi","merchant":"Cab","amount":"-30","date":"2024-06-24","is_confirmed":true}`,
	} {
		if rr := do(t, srv, http.MethodPost, "/api/users/alice/transactions", body); rr.Code != http.StatusCreated {
			t.Fatalf("create = %d (%s)", rr.Code, rr.Body.String())
		}
	}

	rr := do(t, srv, http.MethodGet, "/api/users/alice/summary?salary_day=23", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary = %d (%s)", rr.Code, rr.Body.String())
	}
	got := decode[summaryDTO](t, rr)
	if got.Window.StartDate != "2024-06-23" || got.Available != "2349.50" || got.CurrentExpenses != "150.50" {
		t.Errorf("summary = %+v", got)
	}
	if len(got.Distribution) != 2 || got.Distribution[0].Name != "Groceries" ||
		got.Distribution[1].Name != core.UncategorizedName || got.Distribution[1].Color != core.UncategorizedColor {
		t.Errorf("distribution = %+v", got.Distribution)
	}

	rr = do(t, srv, http.MethodPost, "/api/users/alice/transactions",
		`{"description":"Bonus","amount":"100","date":"2024-06-25","is_confirmed":true}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create = %d", rr.Code)
	}
	got = decode[summaryDTO](t, do(t, srv, http.MethodGet, "/api/users/alice/summary?salary_day=23", ""))
	if got.Available != "2449.50" {
		t.Errorf("summary after write = %s, want 2449.50", got.Available)
	}
}

func TestMaterializeEndpoints(t *testing.T) {
	srv, store := newTestServer(t, 100)
	ctx := context.Background()

	last := core.NewDate(2024, 5, 25)
	rent, err := store.CreateTransaction(ctx, core.Transaction{
		UserID:            "alice",
		Merchant:          "Landlord",
		Description:       "Rent",
		Amount:            decimal.RequireFromString("-900"),
		Date:              core.NewDate(2024, 1, 25),
		IsConfirmed:       true,
		IsRecurring:       true,
		RecurringInterval: core.Monthly,
		LastConfirmedDate: &last,
		Version:           1,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i, want := range []int{1, 0} {
		rr := do(t, srv, http.MethodPost, "/api/users/alice/materialize?salary_day=23&now=2024-06-26", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("run %d: status = %d (%s)", i, rr.Code, rr.Body.String())
		}
		if got := decode[materializeUserResponse](t, rr); got.Created != want {
			t.Errorf("run %d: created = %d, want %d", i, got.Created, want)
		}
	}

	rr := do(t, srv, http.MethodPost, "/api/templates/"+rent.ID+"/materialize", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("template materialize = %d (%s)", rr.Code, rr.Body.String())
	}
	instance := decode[transactionDTO](t, rr)
	if instance.ParentTransactionID == nil || *instance.ParentTransactionID != rent.ID ||
		instance.Date != "2024-06-25" || instance.Version != 3 || instance.IsRecurring {
		t.Errorf("instance = %+v", instance)
	}

	rr = do(t, srv, http.MethodPost, "/api/templates/"+instance.ID+"/materialize", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("materialize non-template = %d, want 422", rr.Code)
	}
	rr = do(t, srv, http.MethodPost, "/api/templates/nope/materialize", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("materialize missing = %d, want 404", rr.Code)
	}
}

func TestSettingsAndDelete(t *testing.T) {
	srv, store := newTestServer(t, 100)

	if rr := do(t, srv, http.MethodPut, "/api/users/alice/settings", `{"salary_day":27}`); rr.Code != http.StatusOK {
		t.Fatalf("settings = %d (%s)", rr.Code, rr.Body.String())
	}
	if rr := do(t, srv, http.MethodPut, "/api/users/alice/settings", `{"salary_day":0}`); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid settings = %d, want 422", rr.Code)
	}
	settings, _ := store.ListUserSettings(context.Background())
	if len(settings) != 1 || settings[0].SalaryDay != 27 {
		t.Errorf("settings = %+v", settings)
	}

	created := decode[transactionDTO](t, do(t, srv, http.MethodPost, "/api/users/alice/transactions",
		`{"description":"Lunch","amount":"-9","date":"2024-06-10"}`))
	if rr := do(t, srv, http.MethodDelete, "/api/transactions/"+created.ID, ""); rr.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, "/api/transactions/"+created.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		if rr := do(t, srv, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rr.Code)
		}
	}
	rr := do(t, srv, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv, _ := newTestServer(t, 10)
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown() error = %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
}
