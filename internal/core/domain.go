package core

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// CopyTypeStudent is the copy type the dashboard requests for every receipt.
const CopyTypeStudent = "student"

type (
	Date struct {
		time.Time
	}

	// StudentFields are the editable attributes of a student. All of them are
	// free text; room and floor are sorted numerically when they parse.
	StudentFields struct {
		Name        string `json:"name" validate:"required,max=200"`
		Department  string `json:"department" validate:"max=200"`
		StudyLevel  string `json:"studyLevel" validate:"max=200"`
		BirthPlace  string `json:"birthPlace" validate:"max=200"`
		RoomNumber  string `json:"roomNumber" validate:"max=200"`
		FloorNumber string `json:"floorNumber" validate:"max=200"`
	}

	Student struct {
		ID string `json:"id"`
		StudentFields
		DateAdded Date       `json:"dateAdded"`
		DeletedAt *time.Time `json:"deletedAt,omitempty"`
		Payments  []Payment  `json:"payments,omitempty"`
	}

	Payment struct {
		ID        string `json:"id"`
		StudentID string `json:"studentId,omitempty"`
		Amount    Money  `json:"amount"`
		Date      Date   `json:"date"`
		Month     string `json:"month"` // 1-12 as a numeric string
		Year      int    `json:"year"`
		Confirmed bool   `json:"confirmed"`
	}

	// PaymentRequest is the body sent to create a payment.
	PaymentRequest struct {
		StudentID string `json:"studentId" validate:"required,max=64"`
		Amount    Money  `json:"amount"`
		Date      Date   `json:"date"`
		Month     string `json:"month" validate:"required,numeric"`
		Year      int    `json:"year" validate:"gte=1900,lte=9999"`
		Confirmed bool   `json:"confirmed"`
	}

	Receipt struct {
		ID        string `json:"id"`
		PaymentID string `json:"paymentId"`
		ReceiptNo string `json:"receiptNo"`
		CopyType  string `json:"copyType"`
	}

	ReceiptRequest struct {
		PaymentID string `json:"paymentId" validate:"required,max=64"`
		ReceiptNo string `json:"receiptNo" validate:"required,max=64"`
		CopyType  string `json:"copyType" validate:"max=32"`
	}

	// ReportsSummary is the aggregate served by the reports endpoint.
	ReportsSummary struct {
		TotalStudents      int   `json:"totalStudents"`
		ActiveStudents     int   `json:"activeStudents"`
		InactiveStudents   int   `json:"inactiveStudents"`
		TotalPayments      Money `json:"totalPayments"`
		MonthlyPayments    Money `json:"monthlyPayments"`
		MonthlyActiveCount int   `json:"monthlyActiveCount"`
	}
)

var (
	ErrInvalidDay          = errors.New("invalid day")
	ErrInvalidMonth        = errors.New("invalid month")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidStudent      = errors.New("invalid student")
	ErrInvalidPayment      = errors.New("invalid payment")
	ErrInvalidReceipt      = errors.New("invalid receipt")
	ErrStudentNotFound     = errors.New("student not found")
	ErrStudentNotActive    = errors.New("student is not active")
	ErrStudentNotDeleted   = errors.New("student is not deleted")
	ErrStudentHasPayments  = errors.New("student has payments")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrPaymentNotConfirmed = errors.New("payment is not confirmed")
	ErrPaymentHasReceipt   = errors.New("payment has a receipt")
	ErrReceiptNotFound     = errors.New("receipt not found")
	ErrReceiptExists       = errors.New("receipt already exists")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// String formats the date as YYYY-MM-DD, or "" for the zero date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// Normalize trims surrounding whitespace from every field.
func (f StudentFields) Normalize() StudentFields {
	return StudentFields{
		Name:        strings.TrimSpace(f.Name),
		Department:  strings.TrimSpace(f.Department),
		StudyLevel:  strings.TrimSpace(f.StudyLevel),
		BirthPlace:  strings.TrimSpace(f.BirthPlace),
		RoomNumber:  strings.TrimSpace(f.RoomNumber),
		FloorNumber: strings.TrimSpace(f.FloorNumber),
	}
}

// IsDeleted reports whether the student carries a soft-deletion timestamp.
func (s Student) IsDeleted() bool {
	return s.DeletedAt != nil
}

// Clone returns a deep copy so callers cannot alias payments or deletedAt.
func (s Student) Clone() Student {
	c := s
	if s.DeletedAt != nil {
		at := *s.DeletedAt
		c.DeletedAt = &at
	}
	if s.Payments != nil {
		c.Payments = make([]Payment, len(s.Payments))
		copy(c.Payments, s.Payments)
	}
	return c
}

// Payment returns the student's payment with the given id.
func (s Student) Payment(id string) (Payment, bool) {
	for _, p := range s.Payments {
		if p.ID == id {
			return p, true
		}
	}
	return Payment{}, false
}

// MonthNumber parses the leading integer of Month; 0 when it has none.
func (p Payment) MonthNumber() int {
	return LeadingInt(p.Month)
}

// InMonth reports whether the payment is booked in the given year and month.
func (p Payment) InMonth(year, month int) bool {
	return p.Year == year && p.MonthNumber() == month
}

// LeadingInt parses an optional sign followed by digits at the start of s,
// ignoring leading whitespace and anything after the digits. It returns 0
// when s has no leading digits.
func LeadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// ReceiptNumber builds REC-<yyyymmdd><last three digits of epoch millis>.
func ReceiptNumber(now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 3 {
		ms = ms[len(ms)-3:]
	}
	return "REC-" + now.UTC().Format("20060102") + ms
}
