// Package relay fronts the REST API with a reverse proxy and serves the
// dashboard: store views, derived reports, exports and store mutations.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"

	"dormpay/internal/cache"
	"dormpay/internal/core"
	"dormpay/internal/export"
	"dormpay/internal/log"
	"dormpay/internal/middleware/ratelimit"
	"dormpay/internal/middleware/security"
	"dormpay/internal/middleware/trace"
	"dormpay/internal/reports"
	"dormpay/internal/state"
)

const (
	defaultReceiptCacheTTL  = 5 * time.Minute
	defaultReceiptCacheSize = 500
	cacheCleanupInterval    = time.Minute
)

type Server struct {
	http.Server
	store   *state.Store
	reports *reports.Aggregator
	sheets  export.RowsWriter
	logger  *log.Logger
	now     func() time.Time

	receipts     *cache.LRUCache[core.Receipt]
	cacheManager *cache.Manager
	rateLimiter  *ratelimit.Limiter
	tracer       *trace.Middleware

	corsOrigins  []string
	rateLimit    int
	receiptTTL   time.Duration
	shutdownOnce sync.Once
}

type Option func(*Server)

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source for derived views and export names.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCORSOrigins lists the browser origins allowed to call the relay.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

func WithRateLimit(perMinute int) Option {
	return func(s *Server) { s.rateLimit = perMinute }
}

// WithReceiptCacheTTL sets how long fetched receipts are served from memory.
func WithReceiptCacheTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.receiptTTL = d
		}
	}
}

// WithSheets enables POST /dashboard/export/sheets.
func WithSheets(w export.RowsWriter) Option {
	return func(s *Server) { s.sheets = w }
}

// NewServer builds the relay. apiBaseURL is the upstream every proxied
// prefix is forwarded to. The store must already be initialised.
func NewServer(addr, apiBaseURL string, store *state.Store, agg *reports.Aggregator, opts ...Option) (*Server, error) {
	target, err := url.Parse(apiBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("api base url %q must be absolute", apiBaseURL)
	}

	s := &Server{
		store:      store,
		reports:    agg,
		logger:     log.FromSlog(nil, log.ComponentRelay),
		now:        time.Now,
		receiptTTL: defaultReceiptCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.receipts = cache.NewLRUCache[core.Receipt](defaultReceiptCacheSize, s.receiptTTL)
	s.cacheManager = cache.NewManager(s.logger.WithComponent(log.ComponentCache))
	s.cacheManager.Register(s.receipts)
	s.cacheManager.StartCleanup(cacheCleanupInterval)

	proxy := newProxy(target, s.receipts, s.logger)
	headers := security.NewHeadersMiddleware(security.RelayHeadersConfig())

	mux := http.NewServeMux()
	for _, prefix := range ProxyPrefixes {
		mux.Handle(prefix, proxy)
		mux.Handle(prefix+"/", proxy)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/dashboard/", headers.Middleware(s.dashboardRoutes()))

	ipExtractor := security.NewIPExtractor()
	cfg := ratelimit.DefaultConfig()
	if s.rateLimit > 0 {
		cfg.RequestsPerMinute = s.rateLimit
	}
	s.rateLimiter = ratelimit.NewLimiter(cfg)
	limited := s.rateLimiter.Middleware(ipExtractor.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, ipExtractor.ExtractClientIP(r), log.FieldPath, r.URL.Path)
		writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded, try again later")
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Content-Type", trace.RequestIDHeader},
		ExposedHeaders: []string{trace.RequestIDHeader, "Content-Disposition"},
	})

	s.tracer = trace.NewMiddleware(s.logger, ipExtractor.ExtractClientIP)
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.tracer.Middleware(c.Handler(limited(mux))),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Relay configured",
		log.FieldTarget, target.String(),
		"prefixes", strings.Join(ProxyPrefixes, ","),
		"sheets_export", s.sheets != nil)
	return s, nil
}

func (s *Server) dashboardRoutes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /dashboard/state", s.handleState)
	mux.HandleFunc("GET /dashboard/summary", s.handleSummary)
	mux.HandleFunc("GET /dashboard/students", s.handleStudents)
	mux.HandleFunc("GET /dashboard/students/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /dashboard/reports", s.handleReports)
	mux.HandleFunc("POST /dashboard/refresh", s.handleRefresh)
	mux.HandleFunc("GET /dashboard/export/students.csv", s.handleExportStudents)
	mux.HandleFunc("GET /dashboard/export/reports.csv", s.handleExportReports)
	mux.HandleFunc("POST /dashboard/export/sheets", s.handleExportSheets)

	mux.HandleFunc("POST /dashboard/students", s.handleAddStudent)
	mux.HandleFunc("PATCH /dashboard/students/{id}", s.handleUpdateStudent)
	mux.HandleFunc("DELETE /dashboard/students/{id}", s.handleDeleteStudent)
	mux.HandleFunc("POST /dashboard/students/{id}/restore", s.handleRestoreStudent)
	mux.HandleFunc("POST /dashboard/students/{id}/payments", s.handleAddPayment)
	mux.HandleFunc("POST /dashboard/students/{sid}/payments/{pid}/confirm", s.handleConfirmPayment)
	mux.HandleFunc("DELETE /dashboard/students/{sid}/payments/{pid}", s.handleDeletePayment)
	mux.HandleFunc("GET /dashboard/payments/{id}/receipt", s.handleReceipt)
	return mux
}

// Stats reports request counters and receipt cache statistics.
func (s *Server) Stats() (trace.Metrics, cache.Stats) {
	return s.tracer.GetMetrics(), s.receipts.Stats()
}

// Shutdown stops background routines and gracefully shuts down the server.
// The store is owned by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		s.cacheManager.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
