package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateJSON(t *testing.T) {
	cases := []struct {
		in   string
		want Date
	}{
		{`"2024-03-15"`, NewDate(2024, 3, 15)},
		{`"2024-03-15T10:20:30Z"`, NewDate(2024, 3, 15)},
		{`"2024-03-15T10:20:30.123Z"`, NewDate(2024, 3, 15)},
		{`null`, Date{}},
		{`""`, Date{}},
	}
	for _, tc := range cases {
		var d Date
		if err := json.Unmarshal([]byte(tc.in), &d); err != nil {
			t.Fatalf("%s: unexpected error %v", tc.in, err)
		}
		if !d.Equal(tc.want.Time) {
			t.Fatalf("%s: expected %v, got %v", tc.in, tc.want, d)
		}
	}

	var d Date
	if err := json.Unmarshal([]byte(`"15/03/2024"`), &d); err == nil {
		t.Fatalf("expected error for unsupported layout")
	}

	out, err := json.Marshal(Payment{ID: "p1", Date: NewDate(2024, 3, 5), Month: "3", Year: 2024, Amount: NewMoney(1250, -2)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"date":"2024-03-05"`, `"amount":12.5`, `"month":"3"`} {
		if !strings.Contains(string(out), want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestStudentJSONFlattensFields(t *testing.T) {
	in := `{"id":"s1","name":"Ana","department":"CS","roomNumber":"12","dateAdded":"2024-01-10","deletedAt":"2024-02-01T08:00:00Z"}`
	var s Student
	if err := json.Unmarshal([]byte(in), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Name != "Ana" || s.RoomNumber != "12" || s.Department != "CS" {
		t.Fatalf("fields not decoded: %+v", s.StudentFields)
	}
	if !s.IsDeleted() {
		t.Fatalf("expected deleted student")
	}
	if s.DateAdded.String() != "2024-01-10" {
		t.Fatalf("expected dateAdded 2024-01-10, got %s", s.DateAdded)
	}
}

func TestStudentClone(t *testing.T) {
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	s := Student{ID: "s1", DeletedAt: &at, Payments: []Payment{{ID: "p1"}}}
	c := s.Clone()
	c.Payments[0].Confirmed = true
	*c.DeletedAt = at.Add(time.Hour)
	if s.Payments[0].Confirmed {
		t.Fatalf("clone shares payments")
	}
	if !s.DeletedAt.Equal(at) {
		t.Fatalf("clone shares deletedAt")
	}
}

func TestLeadingInt(t *testing.T) {
	cases := map[string]int{
		"12":    12,
		" 7 ":   7,
		"3B":    3,
		"A3":    0,
		"":      0,
		"-2":    -2,
		"04":    4,
		"1.5":   1,
		"floor": 0,
	}
	for in, want := range cases {
		if got := LeadingInt(in); got != want {
			t.Fatalf("LeadingInt(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestPaymentInMonth(t *testing.T) {
	p := Payment{Month: "3", Year: 2024}
	if !p.InMonth(2024, 3) {
		t.Fatalf("expected March 2024")
	}
	if p.InMonth(2023, 3) || p.InMonth(2024, 4) {
		t.Fatalf("expected other months to not match")
	}
}

func TestReceiptNumber(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC).Add(987 * time.Millisecond)
	got := ReceiptNumber(now)
	if got != "REC-20240315987" {
		t.Fatalf("expected REC-20240315987, got %s", got)
	}
}

func TestStudentFieldsValidate(t *testing.T) {
	good := StudentFields{Name: "Ana", RoomNumber: "12"}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []StudentFields{
		{},
		{Name: strings.Repeat("x", 201)},
		{Name: "Ana", Department: strings.Repeat("d", 201)},
	}
	for i, f := range bads {
		err := f.Validate()
		if !errors.Is(err, ErrInvalidStudent) {
			t.Fatalf("case %d expected ErrInvalidStudent, got %v", i, err)
		}
	}

	err := StudentFields{}.Validate()
	if !strings.Contains(err.Error(), "name is required") {
		t.Fatalf("expected field message, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	f := StudentFields{Name: "  Ana ", RoomNumber: " 12"}.Normalize()
	if f.Name != "Ana" || f.RoomNumber != "12" {
		t.Fatalf("unexpected normalize result %+v", f)
	}
}

func TestPaymentRequestValidate(t *testing.T) {
	good := PaymentRequest{StudentID: "s1", Amount: NewMoney(100, 0), Month: "3", Year: 2024}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	tests := []struct {
		name string
		req  PaymentRequest
		want string
	}{
		{"missing student", PaymentRequest{Month: "3", Year: 2024}, "studentId is required"},
		{"month out of range", PaymentRequest{StudentID: "s1", Month: "13", Year: 2024}, "month must be between 1 and 12"},
		{"month not numeric", PaymentRequest{StudentID: "s1", Month: "march", Year: 2024}, "month must be numeric"},
		{"year", PaymentRequest{StudentID: "s1", Month: "3", Year: 12}, "year out of range"},
		{"negative amount", PaymentRequest{StudentID: "s1", Month: "3", Year: 2024, Amount: NewMoney(-1, 0)}, "amount must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !errors.Is(err, ErrInvalidPayment) {
				t.Fatalf("expected ErrInvalidPayment, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestReceiptRequestValidate(t *testing.T) {
	if err := (ReceiptRequest{PaymentID: "p1", ReceiptNo: "REC-1", CopyType: CopyTypeStudent}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	err := ReceiptRequest{ReceiptNo: "REC-1"}.Validate()
	if !errors.Is(err, ErrInvalidReceipt) || !strings.Contains(err.Error(), "paymentId is required") {
		t.Fatalf("unexpected error %v", err)
	}
}
