package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
	"ledger/internal/services"
	"ledger/internal/storage"
)

// Services are the collaborators the API drives.
type Services struct {
	Ledger       *services.LedgerService
	Transactions *services.TransactionService
	Materializer *services.Materializer
	Processor    *services.RecurringProcessor
	Settings     storage.SettingsStore
}

// Options tune the transport without touching the domain.
type Options struct {
	RequestTimeout time.Duration
	RateLimit      ratelimit.Config
	Logger         *log.Logger
}

// Server is the JSON API in front of the ledger services.
type Server struct {
	http.Server
	svc            Services
	limiter        *ratelimit.Limiter
	tracer         *trace.Middleware
	requestTimeout time.Duration
	started        time.Time
	now            func() time.Time
	shutdownOnce   sync.Once
}

func NewServer(addr string, svc Services, opts Options) (*Server, error) {
	ipExtractor, err := security.NewClientIPExtractor()
	if err != nil {
		return nil, err
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}

	s := &Server{
		svc:            svc,
		limiter:        ratelimit.NewLimiter(opts.RateLimit),
		tracer:         trace.NewMiddleware(ipExtractor.ExtractClientIP),
		requestTimeout: opts.RequestTimeout,
		started:        time.Now(),
		now:            time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/salary-month", s.handleSalaryMonth)
	mux.HandleFunc("PUT /api/users/{userID}/settings", s.handlePutSettings)
	mux.HandleFunc("GET /api/users/{userID}/summary", s.handleSummary)
	mux.HandleFunc("POST /api/users/{userID}/transactions", s.handleCreateTransaction)
	mux.HandleFunc("GET /api/users/{userID}/transactions/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /api/users/{userID}/materialize", s.handleMaterializeUser)
	mux.HandleFunc("POST /api/transactions/{id}/confirm", s.handleConfirm)
	mux.HandleFunc("POST /api/transactions/{id}/unconfirm", s.handleUnconfirm)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/templates/{id}/materialize", s.handleMaterializeTemplate)

	onLimit := func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, r, http.StatusTooManyRequests, "rate limit exceeded")
	}

	var handler http.Handler = mux
	handler = s.withTimeout(handler)
	handler = s.limiter.Middleware(ipExtractor.ExtractClientIP, onLimit)(handler)
	handler = security.Headers(security.DefaultHeadersConfig())(handler)
	handler = log.Middleware(opts.Logger, trace.GetRequestID)(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      opts.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Shutdown stops background helpers and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
