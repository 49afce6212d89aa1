// Package query derives counts, totals, histories and orderings from a
// snapshot of students. Every function is pure; the current time is passed in.
package query

import (
	"time"

	"github.com/shopspring/decimal"

	"dormpay/internal/core"
)

// Summary is the dashboard header block.
type Summary struct {
	TotalStudents     int        `json:"totalStudents"`
	ActiveStudents    int        `json:"activeStudents"`
	InactiveStudents  int        `json:"inactiveStudents"`
	CurrentMonthTotal core.Money `json:"currentMonthTotal"`
}

// Daily is the amount and count of confirmed payments dated today.
type Daily struct {
	Amount core.Money `json:"amount"`
	Count  int        `json:"count"`
}

// IsActive reports whether the student has a confirmed payment booked in
// now's month and year.
func IsActive(s core.Student, now time.Time) bool {
	year, month := now.Year(), int(now.Month())
	for _, p := range s.Payments {
		if p.Confirmed && p.InMonth(year, month) {
			return true
		}
	}
	return false
}

func Summarize(students []core.Student, now time.Time) Summary {
	sum := Summary{TotalStudents: len(students), CurrentMonthTotal: decimal.Zero}
	for _, s := range students {
		if IsActive(s, now) {
			sum.ActiveStudents++
		}
	}
	sum.InactiveStudents = sum.TotalStudents - sum.ActiveStudents
	sum.CurrentMonthTotal = CurrentMonthTotal(students, now)
	return sum
}

// CurrentMonthTotal sums every confirmed payment booked in now's month,
// including several payments of the same student.
func CurrentMonthTotal(students []core.Student, now time.Time) core.Money {
	year, month := now.Year(), int(now.Month())
	total := decimal.Zero
	for _, s := range students {
		for _, p := range s.Payments {
			if p.Confirmed && p.InMonth(year, month) {
				total = total.Add(p.Amount)
			}
		}
	}
	return total
}

// DailyTotal counts confirmed payments whose date is today.
func DailyTotal(students []core.Student, now time.Time) Daily {
	today := core.DateOf(now).String()
	d := Daily{Amount: decimal.Zero}
	for _, s := range students {
		for _, p := range s.Payments {
			if p.Confirmed && p.Date.String() == today {
				d.Amount = d.Amount.Add(p.Amount)
				d.Count++
			}
		}
	}
	return d
}

// TotalConfirmed sums the student's confirmed payments over all time.
func TotalConfirmed(s core.Student) core.Money {
	total := decimal.Zero
	for _, p := range s.Payments {
		if p.Confirmed {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// LastConfirmedPayment returns the confirmed payment with the latest date.
func LastConfirmedPayment(s core.Student) (core.Payment, bool) {
	var (
		last  core.Payment
		found bool
	)
	for _, p := range s.Payments {
		if !p.Confirmed {
			continue
		}
		if !found || p.Date.After(last.Date.Time) {
			last, found = p, true
		}
	}
	return last, found
}

func PendingPayments(s core.Student) []core.Payment {
	var out []core.Payment
	for _, p := range s.Payments {
		if !p.Confirmed {
			out = append(out, p)
		}
	}
	return out
}

// ComputeReports builds the reports summary locally from the active students.
// It stands in for the server summary when that is unavailable.
func ComputeReports(students []core.Student, now time.Time) core.ReportsSummary {
	sum := Summarize(students, now)
	total := decimal.Zero
	for _, s := range students {
		total = total.Add(TotalConfirmed(s))
	}
	return core.ReportsSummary{
		TotalStudents:      sum.TotalStudents,
		ActiveStudents:     sum.ActiveStudents,
		InactiveStudents:   sum.InactiveStudents,
		TotalPayments:      total,
		MonthlyPayments:    sum.CurrentMonthTotal,
		MonthlyActiveCount: sum.ActiveStudents,
	}
}
