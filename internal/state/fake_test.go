package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dormpay/internal/api"
	"dormpay/internal/core"
)

// fakeAPI is an in-memory API that records every call and can be told to
// fail specific methods. ListPayments also fails for keys "ListPayments:<id>".
type fakeAPI struct {
	mu       sync.Mutex
	calls    []string
	students map[string]core.Student
	order    []string
	payments map[string][]core.Payment
	receipts map[string]core.Receipt // by payment id
	fail     map[string]error
	seq      int
	now      time.Time
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		students: make(map[string]core.Student),
		payments: make(map[string][]core.Payment),
		receipts: make(map[string]core.Receipt),
		fail:     make(map[string]error),
		now:      time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeAPI) record(method string) error {
	f.calls = append(f.calls, method)
	return f.fail[method]
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAPI) called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeAPI) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func (f *fakeAPI) seedStudent(s core.Student, payments ...core.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.students[s.ID] = s
	f.order = append(f.order, s.ID)
	for _, p := range payments {
		p.StudentID = s.ID
		f.payments[s.ID] = append(f.payments[s.ID], p)
	}
}

func (f *fakeAPI) list(deleted bool) []core.Student {
	var out []core.Student
	for _, id := range f.order {
		s, ok := f.students[id]
		if ok && s.IsDeleted() == deleted {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeAPI) ListStudents(ctx context.Context) ([]core.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListStudents"); err != nil {
		return nil, err
	}
	return f.list(false), nil
}

func (f *fakeAPI) ListDeletedStudents(ctx context.Context) ([]core.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListDeletedStudents"); err != nil {
		return nil, err
	}
	return f.list(true), nil
}

func (f *fakeAPI) CreateStudent(ctx context.Context, fields core.StudentFields) (core.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateStudent"); err != nil {
		return core.Student{}, err
	}
	s := core.Student{ID: f.nextID("s"), StudentFields: fields, DateAdded: core.DateOf(f.now)}
	f.students[s.ID] = s
	f.order = append(f.order, s.ID)
	return s, nil
}

func (f *fakeAPI) UpdateStudent(ctx context.Context, id string, fields core.StudentFields) (core.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("UpdateStudent"); err != nil {
		return core.Student{}, err
	}
	s, ok := f.students[id]
	if !ok {
		return core.Student{}, &api.Error{Status: 404, Message: "Student not found"}
	}
	s.StudentFields = fields
	f.students[id] = s
	return s, nil
}

func (f *fakeAPI) SoftDeleteStudent(ctx context.Context, id string) (core.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SoftDeleteStudent"); err != nil {
		return core.Student{}, err
	}
	s := f.students[id]
	at := f.now
	s.DeletedAt = &at
	f.students[id] = s
	return s, nil
}

func (f *fakeAPI) RestoreStudent(ctx context.Context, id string) (core.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RestoreStudent"); err != nil {
		return core.Student{}, err
	}
	s := f.students[id]
	s.DeletedAt = nil
	f.students[id] = s
	return s, nil
}

func (f *fakeAPI) DeleteStudent(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteStudent"); err != nil {
		return err
	}
	delete(f.students, id)
	return nil
}

func (f *fakeAPI) ListPayments(ctx context.Context, studentID string) ([]core.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListPayments"); err != nil {
		return nil, err
	}
	if err := f.fail["ListPayments:"+studentID]; err != nil {
		return nil, err
	}
	return append([]core.Payment(nil), f.payments[studentID]...), nil
}

func (f *fakeAPI) CreatePayment(ctx context.Context, req core.PaymentRequest) (core.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreatePayment"); err != nil {
		return core.Payment{}, err
	}
	p := core.Payment{
		ID:        f.nextID("p"),
		StudentID: req.StudentID,
		Amount:    req.Amount,
		Date:      req.Date,
		Month:     req.Month,
		Year:      req.Year,
		Confirmed: req.Confirmed,
	}
	f.payments[req.StudentID] = append(f.payments[req.StudentID], p)
	return p, nil
}

func (f *fakeAPI) ConfirmPayment(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ConfirmPayment"); err != nil {
		return err
	}
	for sid, ps := range f.payments {
		for i := range ps {
			if ps[i].ID == id {
				f.payments[sid][i].Confirmed = true
			}
		}
	}
	return nil
}

func (f *fakeAPI) DeletePayment(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeletePayment"); err != nil {
		return err
	}
	for sid, ps := range f.payments {
		kept := ps[:0]
		for _, p := range ps {
			if p.ID != id {
				kept = append(kept, p)
			}
		}
		f.payments[sid] = kept
	}
	return nil
}

func (f *fakeAPI) CreateReceipt(ctx context.Context, req core.ReceiptRequest) (core.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateReceipt"); err != nil {
		return core.Receipt{}, err
	}
	r := core.Receipt{ID: f.nextID("r"), PaymentID: req.PaymentID, ReceiptNo: req.ReceiptNo, CopyType: req.CopyType}
	f.receipts[req.PaymentID] = r
	return r, nil
}

func (f *fakeAPI) ReceiptByPayment(ctx context.Context, paymentID string) (core.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ReceiptByPayment"); err != nil {
		return core.Receipt{}, err
	}
	r, ok := f.receipts[paymentID]
	if !ok {
		return core.Receipt{}, &api.Error{Status: 404, Message: "Receipt not found"}
	}
	return r, nil
}

func (f *fakeAPI) DeleteReceipt(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteReceipt"); err != nil {
		return err
	}
	for pid, r := range f.receipts {
		if r.ID == id {
			delete(f.receipts, pid)
		}
	}
	return nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	reqs []core.ReceiptRequest
}

func (p *recordingPublisher) PublishReceiptRetry(ctx context.Context, req core.ReceiptRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	return nil
}
