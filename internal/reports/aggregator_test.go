package reports

import (
	"context"
	"errors"
	"testing"
	"time"

	"dormpay/internal/core"
	"dormpay/internal/log"
)

type fakeFetcher struct {
	summary core.ReportsSummary
	err     error
}

func (f *fakeFetcher) Summary(ctx context.Context) (core.ReportsSummary, error) {
	return f.summary, f.err
}

type staticStudents []core.Student

func (s staticStudents) Active() []core.Student { return s }

func TestSummaryFromServer(t *testing.T) {
	f := &fakeFetcher{summary: core.ReportsSummary{TotalStudents: 42, ActiveStudents: 40, InactiveStudents: 2}}
	a := New(f, staticStudents{}, WithLogger(log.Discard()))

	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, src := a.Summary()
	if src != SourceServer {
		t.Fatalf("expected server source, got %s", src)
	}
	if got.TotalStudents != 42 || got.ActiveStudents != 40 {
		t.Fatalf("server figures not exposed verbatim: %+v", got)
	}
	if a.Err() != "" || a.Loading() {
		t.Fatalf("unexpected state err=%q loading=%v", a.Err(), a.Loading())
	}
}

func TestSummaryFallsBackToLocal(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	students := staticStudents{
		{ID: "a", Payments: []core.Payment{{ID: "p", Amount: core.NewMoney(100, 0), Month: "3", Year: 2024, Confirmed: true}}},
		{ID: "b"},
	}
	f := &fakeFetcher{summary: core.ReportsSummary{TotalStudents: 99}}
	a := New(f, students, WithClock(func() time.Time { return now }), WithLogger(log.Discard()))

	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.err = errors.New("HTTP 500: Internal Server Error")
	if err := a.Load(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if a.Err() == "" {
		t.Fatalf("expected recorded error")
	}

	got, src := a.Summary()
	if src != SourceLocal {
		t.Fatalf("expected local source, got %s", src)
	}
	if got.TotalStudents != 2 || got.ActiveStudents != 1 || got.InactiveStudents != 1 {
		t.Fatalf("unexpected local counts %+v", got)
	}
	if !got.MonthlyPayments.Equal(core.NewMoney(100, 0)) {
		t.Fatalf("unexpected monthly total %s", got.MonthlyPayments)
	}
}

func TestSummaryBeforeLoadIsLocal(t *testing.T) {
	a := New(&fakeFetcher{}, nil)
	if _, src := a.Summary(); src != SourceLocal {
		t.Fatalf("expected local source before first load")
	}
}
