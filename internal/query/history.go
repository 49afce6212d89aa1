package query

import (
	"fmt"
	"slices"
	"time"

	"dormpay/internal/core"
)

type HistoryStatus string

const (
	StatusPaid    HistoryStatus = "paid"
	StatusPending HistoryStatus = "pending"
	StatusMissed  HistoryStatus = "missed"
)

// HistoryEntry is one row of a student's payment history. Payment is nil for
// a month without payments.
type HistoryEntry struct {
	Key     string        `json:"key"`
	Year    int           `json:"year"`
	Month   int           `json:"month"`
	Label   string        `json:"label"`
	Status  HistoryStatus `json:"status"`
	Payment *core.Payment `json:"payment,omitempty"`
}

// History walks calendar months from the student's dateAdded month to now's
// month and returns the entries newest first. A month with payments yields
// one entry per payment; an empty month yields a placeholder that is missed
// for past months and pending for the current one.
func History(s core.Student, now time.Time) []HistoryEntry {
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := end
	if !s.DateAdded.IsZero() {
		start = time.Date(s.DateAdded.Year(), s.DateAdded.Time.Month(), 1, 0, 0, 0, 0, time.UTC)
	}

	var entries []HistoryEntry
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 1, 0) {
		year, month := cur.Year(), int(cur.Month())
		label := fmt.Sprintf("%s %d", cur.Month(), year)

		var inMonth []core.Payment
		for _, p := range s.Payments {
			if p.InMonth(year, month) {
				inMonth = append(inMonth, p)
			}
		}

		if len(inMonth) == 0 {
			status := StatusMissed
			if !cur.Before(end) {
				status = StatusPending
			}
			entries = append(entries, HistoryEntry{
				Key:    fmt.Sprintf("%d-%d-empty", year, month),
				Year:   year,
				Month:  month,
				Label:  label,
				Status: status,
			})
			continue
		}

		for i, p := range inMonth {
			entry := HistoryEntry{
				Key:     fmt.Sprintf("%d-%d-%d", year, month, i),
				Year:    year,
				Month:   month,
				Label:   label,
				Status:  StatusPending,
				Payment: &inMonth[i],
			}
			if len(inMonth) > 1 {
				entry.Label = fmt.Sprintf("%s (payment %d)", label, i+1)
			}
			if p.Confirmed {
				entry.Status = StatusPaid
			}
			entries = append(entries, entry)
		}
	}

	slices.Reverse(entries)
	return entries
}
