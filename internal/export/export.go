// Package export flattens students and report summaries into rows for CSV
// downloads and spreadsheet tabs.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"dormpay/internal/core"
	"dormpay/internal/query"
)

// RowsWriter receives a full table, replacing whatever was there.
type RowsWriter interface {
	WriteRows(ctx context.Context, rows [][]string) error
}

const (
	StatusConfirmed  = "confirmed"
	StatusNoPayments = "no payments"
	ActivityActive   = "active"
	ActivityInactive = "inactive"
)

var studentHeader = []string{
	"Name", "Department", "Study Level", "Birth Place", "Room", "Floor",
	"Amount", "Payment Date", "Month", "Year", "Status", "Activity",
}

// StudentRows returns a header and one row per confirmed payment. Students
// without confirmed payments get a single zero-amount row.
func StudentRows(students []core.Student, now time.Time) [][]string {
	rows := [][]string{append([]string(nil), studentHeader...)}
	for _, s := range students {
		base := []string{s.Name, s.Department, s.StudyLevel, s.BirthPlace, s.RoomNumber, s.FloorNumber}
		activity := ActivityInactive
		if query.IsActive(s, now) {
			activity = ActivityActive
		}

		wrote := false
		for _, p := range s.Payments {
			if !p.Confirmed {
				continue
			}
			row := append(append([]string(nil), base...),
				p.Amount.String(), p.Date.String(), p.Month, strconv.Itoa(p.Year), StatusConfirmed, activity)
			rows = append(rows, row)
			wrote = true
		}
		if !wrote {
			rows = append(rows, append(append([]string(nil), base...),
				"0", "", "", "", StatusNoPayments, ActivityInactive))
		}
	}
	return rows
}

// SummaryRows renders the reports summary as titled key/value rows.
func SummaryRows(summary core.ReportsSummary, now time.Time) [][]string {
	return [][]string{
		{"Students Report"},
		{"Generated on:", now.Format("02/01/2006")},
		{""},
		{"Summary"},
		{"Total students:", strconv.Itoa(summary.TotalStudents)},
		{"Active students (current month):", strconv.Itoa(summary.ActiveStudents)},
		{"Inactive students:", strconv.Itoa(summary.InactiveStudents)},
		{""},
		{"Financial summary"},
		{"Total collected:", summary.TotalPayments.String()},
		{"Collected this month:", summary.MonthlyPayments.String()},
		{"Active students this month:", strconv.Itoa(summary.MonthlyActiveCount)},
	}
}

// WriteCSV writes a UTF-8 byte order mark, so spreadsheet apps detect the
// encoding, followed by rows as RFC 4180 CSV.
func WriteCSV(w io.Writer, rows [][]string) error {
	if _, err := io.WriteString(w, "\uFEFF"); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// FileName builds a dated download name such as students-2024-03-20.csv.
func FileName(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s.csv", prefix, now.Format(core.DateLayout))
}
