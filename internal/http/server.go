// Package http serves the student, payment, receipt and reports REST
// resources over a backend.Backend.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"dormpay/internal/backend"
	"dormpay/internal/log"
	"dormpay/internal/middleware/ratelimit"
	"dormpay/internal/middleware/security"
	"dormpay/internal/middleware/trace"
)

type Server struct {
	http.Server
	backend     backend.Backend
	logger      *log.Logger
	now         func() time.Time
	rateLimiter *ratelimit.Limiter
	tracer      *trace.Middleware

	rateLimit    int
	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source used for dateAdded, deletedAt, default
// payment dates and the reports month.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRateLimit sets the number of requests per minute allowed per client IP.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) { s.rateLimit = perMinute }
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, b backend.Backend, opts ...Option) *Server {
	s := &Server{
		backend: b,
		logger:  log.FromSlog(nil, log.ComponentHTTP),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /students", s.handleListStudents)
	mux.HandleFunc("GET /students/deleted", s.handleListDeletedStudents)
	mux.HandleFunc("GET /students/{id}", s.handleGetStudent)
	mux.HandleFunc("POST /students", s.handleCreateStudent)
	mux.HandleFunc("PATCH /students/{id}", s.handleUpdateStudent)
	mux.HandleFunc("PATCH /students/{id}/deleted-at", s.handleSoftDeleteStudent)
	mux.HandleFunc("PATCH /students/{id}/restore", s.handleRestoreStudent)
	mux.HandleFunc("DELETE /students/{id}", s.handleDeleteStudent)

	mux.HandleFunc("GET /students/{id}/payments", s.handleListPayments)
	mux.HandleFunc("POST /payments", s.handleCreatePayment)
	mux.HandleFunc("PATCH /payments/{id}/confirm", s.handleConfirmPayment)
	mux.HandleFunc("DELETE /payments/{id}", s.handleDeletePayment)

	mux.HandleFunc("POST /receipts", s.handleCreateReceipt)
	mux.HandleFunc("GET /payments/{id}/receipt", s.handleReceiptByPayment)
	mux.HandleFunc("GET /receipts/{id}", s.handleGetReceipt)
	mux.HandleFunc("DELETE /receipts/{id}", s.handleDeleteReceipt)

	mux.HandleFunc("GET /reports/summary", s.handleSummary)

	ipExtractor := security.NewIPExtractor()
	cfg := ratelimit.DefaultConfig()
	if s.rateLimit > 0 {
		cfg.RequestsPerMinute = s.rateLimit
	}
	s.rateLimiter = ratelimit.NewLimiter(cfg)
	s.tracer = trace.NewMiddleware(s.logger, ipExtractor.ExtractClientIP)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	limited := s.rateLimiter.Middleware(ipExtractor.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, ipExtractor.ExtractClientIP(r), log.FieldPath, r.URL.Path)
		NewResponseBuilder(w, r).Error(http.StatusTooManyRequests, "rate limit exceeded, try again later")
	})

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.tracer.Middleware(headers.Middleware(limited(mux))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Metrics returns the request counters collected by the trace middleware.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady checks that the backend answers a list query.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.backend.ListStudents(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
