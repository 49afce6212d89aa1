package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dormpay/internal/core"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON value from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: empty body", errMalformedBody)
		}
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, then trims whitespace.
func sanitizeInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func sanitizeFields(f core.StudentFields) core.StudentFields {
	return core.StudentFields{
		Name:        sanitizeInput(f.Name),
		Department:  sanitizeInput(f.Department),
		StudyLevel:  sanitizeInput(f.StudyLevel),
		BirthPlace:  sanitizeInput(f.BirthPlace),
		RoomNumber:  sanitizeInput(f.RoomNumber),
		FloorNumber: sanitizeInput(f.FloorNumber),
	}
}

// ParseMonthParams resolves the reference time for a reports request from
// optional year and month query parameters. Invalid values fall back to now.
func ParseMonthParams(r *http.Request, now time.Time) time.Time {
	year, month := now.Year(), int(now.Month())
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil && y >= 1900 && y <= 9999 {
			year = y
		}
	}
	if v := strings.TrimSpace(q.Get("month")); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m >= 1 && m <= 12 {
			month = m
		}
	}
	if year == now.Year() && month == int(now.Month()) {
		return now
	}
	return time.Date(year, time.Month(month), 1, 12, 0, 0, 0, now.Location())
}
