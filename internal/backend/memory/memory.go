// Package memory is a process-local backend for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dormpay/internal/core"
)

type Store struct {
	mu       sync.RWMutex
	students map[string]core.Student // payments are kept separately
	order    []string
	payments map[string]core.Payment
	porder   []string
	receipts map[string]core.Receipt
}

func New() *Store {
	return &Store{
		students: make(map[string]core.Student),
		payments: make(map[string]core.Payment),
		receipts: make(map[string]core.Receipt),
	}
}

// NewFromFile seeds the store from a JSON array of students with embedded
// payments. Month names such as "March" are converted to month numbers.
func NewFromFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed []core.Student
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	s := New()
	for _, st := range seed {
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		payments := st.Payments
		st.Payments = nil
		s.students[st.ID] = st
		s.order = append(s.order, st.ID)
		for _, p := range payments {
			if p.ID == "" {
				p.ID = uuid.NewString()
			}
			p.StudentID = st.ID
			p.Month = monthNumber(p.Month)
			s.payments[p.ID] = p
			s.porder = append(s.porder, p.ID)
		}
	}
	return s, nil
}

func monthNumber(m string) string {
	if core.LeadingInt(m) > 0 {
		return strconv.Itoa(core.LeadingInt(m))
	}
	for i := time.January; i <= time.December; i++ {
		if strings.EqualFold(strings.TrimSpace(m), i.String()) {
			return strconv.Itoa(int(i))
		}
	}
	return m
}

func (s *Store) listStudents(deleted bool) []core.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Student, 0, len(s.order))
	for _, id := range s.order {
		st := s.students[id]
		if st.IsDeleted() == deleted {
			out = append(out, st.Clone())
		}
	}
	return out
}

func (s *Store) ListStudents(_ context.Context) ([]core.Student, error) {
	return s.listStudents(false), nil
}

func (s *Store) ListDeletedStudents(_ context.Context) ([]core.Student, error) {
	return s.listStudents(true), nil
}

func (s *Store) GetStudent(_ context.Context, id string) (core.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return core.Student{}, core.ErrStudentNotFound
	}
	return st.Clone(), nil
}

func (s *Store) CreateStudent(_ context.Context, fields core.StudentFields, added core.Date) (core.Student, error) {
	if err := fields.Validate(); err != nil {
		return core.Student{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := core.Student{ID: uuid.NewString(), StudentFields: fields, DateAdded: added}
	s.students[st.ID] = st
	s.order = append(s.order, st.ID)
	return st.Clone(), nil
}

func (s *Store) UpdateStudent(_ context.Context, id string, fields core.StudentFields) (core.Student, error) {
	if err := fields.Validate(); err != nil {
		return core.Student{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return core.Student{}, core.ErrStudentNotFound
	}
	st.StudentFields = fields
	s.students[id] = st
	return st.Clone(), nil
}

// SoftDeleteStudent keeps the first deletion time when called twice.
func (s *Store) SoftDeleteStudent(_ context.Context, id string, at time.Time) (core.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return core.Student{}, core.ErrStudentNotFound
	}
	if st.DeletedAt == nil {
		at = at.UTC()
		st.DeletedAt = &at
		s.students[id] = st
	}
	return st.Clone(), nil
}

func (s *Store) RestoreStudent(_ context.Context, id string) (core.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return core.Student{}, core.ErrStudentNotFound
	}
	st.DeletedAt = nil
	s.students[id] = st
	return st.Clone(), nil
}

func (s *Store) DeleteStudent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[id]; !ok {
		return core.ErrStudentNotFound
	}
	for _, p := range s.payments {
		if p.StudentID == id {
			return core.ErrStudentHasPayments
		}
	}
	delete(s.students, id)
	s.order = without(s.order, id)
	return nil
}

func (s *Store) ListPayments(_ context.Context, studentID string) ([]core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.students[studentID]; !ok {
		return nil, core.ErrStudentNotFound
	}
	out := []core.Payment{}
	for _, id := range s.porder {
		if p := s.payments[id]; p.StudentID == studentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) CreatePayment(_ context.Context, req core.PaymentRequest) (core.Payment, error) {
	if err := core.ValidateAmount(req.Amount); err != nil {
		return core.Payment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[req.StudentID]; !ok {
		return core.Payment{}, core.ErrStudentNotFound
	}
	p := core.Payment{
		ID:        uuid.NewString(),
		StudentID: req.StudentID,
		Amount:    req.Amount,
		Date:      req.Date,
		Month:     req.Month,
		Year:      req.Year,
		Confirmed: req.Confirmed,
	}
	s.payments[p.ID] = p
	s.porder = append(s.porder, p.ID)
	return p, nil
}

func (s *Store) ConfirmPayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return core.ErrPaymentNotFound
	}
	p.Confirmed = true
	s.payments[id] = p
	return nil
}

func (s *Store) DeletePayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[id]; !ok {
		return core.ErrPaymentNotFound
	}
	for _, r := range s.receipts {
		if r.PaymentID == id {
			return core.ErrPaymentHasReceipt
		}
	}
	delete(s.payments, id)
	s.porder = without(s.porder, id)
	return nil
}

func (s *Store) CreateReceipt(_ context.Context, req core.ReceiptRequest) (core.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[req.PaymentID]
	if !ok {
		return core.Receipt{}, core.ErrPaymentNotFound
	}
	if !p.Confirmed {
		return core.Receipt{}, core.ErrPaymentNotConfirmed
	}
	for _, r := range s.receipts {
		if r.PaymentID == req.PaymentID {
			return core.Receipt{}, core.ErrReceiptExists
		}
	}
	r := core.Receipt{ID: uuid.NewString(), PaymentID: req.PaymentID, ReceiptNo: req.ReceiptNo, CopyType: req.CopyType}
	s.receipts[r.ID] = r
	return r, nil
}

func (s *Store) ReceiptByPayment(_ context.Context, paymentID string) (core.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.receipts {
		if r.PaymentID == paymentID {
			return r, nil
		}
	}
	return core.Receipt{}, core.ErrReceiptNotFound
}

func (s *Store) GetReceipt(_ context.Context, id string) (core.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[id]
	if !ok {
		return core.Receipt{}, core.ErrReceiptNotFound
	}
	return r, nil
}

func (s *Store) DeleteReceipt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[id]; !ok {
		return core.ErrReceiptNotFound
	}
	delete(s.receipts, id)
	return nil
}

func without(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
