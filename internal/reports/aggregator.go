// Package reports serves the reports summary, falling back to figures
// computed from the local student view when the server cannot provide it.
package reports

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dormpay/internal/core"
	"dormpay/internal/log"
	"dormpay/internal/query"
)

type Source string

const (
	SourceServer Source = "server"
	SourceLocal  Source = "local"
)

type SummaryFetcher interface {
	Summary(ctx context.Context) (core.ReportsSummary, error)
}

// StudentSource provides the active students used for the local fallback.
type StudentSource interface {
	Active() []core.Student
}

// Aggregator caches the last server summary.
type Aggregator struct {
	fetcher  SummaryFetcher
	students StudentSource
	now      func() time.Time
	logger   *log.Logger

	mu       sync.RWMutex
	server   *core.ReportsSummary
	inFlight int
	lastErr  string
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l.WithComponent(log.ComponentReports)
		}
	}
}

func New(fetcher SummaryFetcher, students StudentSource, opts ...Option) *Aggregator {
	a := &Aggregator{
		fetcher:  fetcher,
		students: students,
		now:      time.Now,
		logger:   log.FromSlog(nil, log.ComponentReports),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load fetches the server summary. On failure the error is kept and Summary
// switches to the local computation until the next successful load.
func (a *Aggregator) Load(ctx context.Context) error {
	a.mu.Lock()
	a.inFlight++
	a.lastErr = ""
	a.mu.Unlock()

	summary, err := a.fetcher.Summary(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight--
	if err != nil {
		err = fmt.Errorf("load reports: %w", err)
		a.lastErr = err.Error()
		a.server = nil
		a.logger.WarnContext(ctx, "Reports summary unavailable, using local figures", log.FieldError, err)
		return err
	}
	a.server = &summary
	return nil
}

// Summary returns the server figures when the last load succeeded, otherwise
// an approximation over the active students.
func (a *Aggregator) Summary() (core.ReportsSummary, Source) {
	a.mu.RLock()
	server := a.server
	a.mu.RUnlock()
	if server != nil {
		return *server, SourceServer
	}
	if a.students == nil {
		return query.ComputeReports(nil, a.now()), SourceLocal
	}
	return query.ComputeReports(a.students.Active(), a.now()), SourceLocal
}

func (a *Aggregator) Loading() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.inFlight > 0
}

func (a *Aggregator) Err() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}
