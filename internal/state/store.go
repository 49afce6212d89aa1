// Package state keeps the dashboard's view of students and their payments in
// sync with the REST API. Every mutation goes to the API first; local records
// change only after the server accepted it.
package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dormpay/internal/api"
	"dormpay/internal/core"
	"dormpay/internal/log"
)

// API is the subset of the REST client the store needs.
type API interface {
	ListStudents(ctx context.Context) ([]core.Student, error)
	ListDeletedStudents(ctx context.Context) ([]core.Student, error)
	CreateStudent(ctx context.Context, fields core.StudentFields) (core.Student, error)
	UpdateStudent(ctx context.Context, id string, fields core.StudentFields) (core.Student, error)
	SoftDeleteStudent(ctx context.Context, id string) (core.Student, error)
	RestoreStudent(ctx context.Context, id string) (core.Student, error)
	DeleteStudent(ctx context.Context, id string) error
	ListPayments(ctx context.Context, studentID string) ([]core.Payment, error)
	CreatePayment(ctx context.Context, req core.PaymentRequest) (core.Payment, error)
	ConfirmPayment(ctx context.Context, id string) error
	DeletePayment(ctx context.Context, id string) error
	CreateReceipt(ctx context.Context, req core.ReceiptRequest) (core.Receipt, error)
	ReceiptByPayment(ctx context.Context, paymentID string) (core.Receipt, error)
	DeleteReceipt(ctx context.Context, id string) error
}

// ReceiptRetryPublisher queues receipt creations that failed during
// confirmation.
type ReceiptRetryPublisher interface {
	PublishReceiptRetry(ctx context.Context, req core.ReceiptRequest) error
}

var (
	ErrStoreClosed   = errors.New("store is closed")
	ErrEmptyResponse = errors.New("empty response from API")
)

const defaultFanOut = 8

type status int

const (
	statusActive status = iota
	statusDeleted
)

type record struct {
	student core.Student
	status  status
	// paymentsUnknown marks a student whose payments failed to load; its
	// empty payment list is not proof that it owns none.
	paymentsUnknown bool
}

// loaded is a listed student with the outcome of its payments fetch.
type loaded struct {
	student         core.Student
	paymentsUnknown bool
}

// Store holds every known student exactly once, tagged active or deleted.
type Store struct {
	api    API
	logger *log.Logger
	now    func() time.Time
	retry  ReceiptRetryPublisher
	fanOut int

	mu       sync.RWMutex
	records  map[string]*record
	order    []string
	inFlight int
	lastErr  string
	closed   bool
}

type Option func(*Store)

// WithClock overrides time.Now; dates of new payments and receipts use it.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l.WithComponent(log.ComponentStore)
		}
	}
}

// WithReceiptRetry publishes failed receipt creations for a later retry.
func WithReceiptRetry(p ReceiptRetryPublisher) Option {
	return func(s *Store) {
		s.retry = p
	}
}

// WithFanOut bounds concurrent payment fetches during Load.
func WithFanOut(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.fanOut = n
		}
	}
}

func New(client API, opts ...Option) *Store {
	s := &Store{
		api:     client,
		logger:  log.FromSlog(nil, log.ComponentStore),
		now:     time.Now,
		fanOut:  defaultFanOut,
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init performs the first load.
func (s *Store) Init(ctx context.Context) error {
	return s.Load(ctx)
}

// Teardown drops all records; later operations return ErrStoreClosed.
func (s *Store) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.records = make(map[string]*record)
	s.order = nil
}

// Loading reports whether any operation is in flight.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight > 0
}

// Err returns the message of the most recent failed operation, or "".
func (s *Store) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Active returns copies of the active students in insertion order.
func (s *Store) Active() []core.Student {
	return s.view(statusActive)
}

// Deleted returns copies of the soft-deleted students in insertion order.
func (s *Store) Deleted() []core.Student {
	return s.view(statusDeleted)
}

// Student returns a copy of the student and whether it is soft-deleted.
func (s *Store) Student(id string) (student core.Student, deleted bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return core.Student{}, false, false
	}
	return rec.student.Clone(), rec.status == statusDeleted, true
}

func (s *Store) view(st status) []core.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Student, 0, len(s.order))
	for _, id := range s.order {
		if rec := s.records[id]; rec.status == st {
			out = append(out, rec.student.Clone())
		}
	}
	return out
}

func (s *Store) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.inFlight++
	s.lastErr = ""
	return nil
}

func (s *Store) finish(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if err != nil {
		s.lastErr = err.Error()
	}
	return err
}

// commit runs fn under the write lock unless the store was torn down while
// the API call was in flight.
func (s *Store) commit(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	fn()
	return nil
}

func (s *Store) lookup(id string) (record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return record{}, false
	}
	return record{student: rec.student.Clone(), status: rec.status, paymentsUnknown: rec.paymentsUnknown}, true
}

// put inserts or replaces a record, keeping its position when it exists.
// Callers hold the write lock.
func (s *Store) put(student core.Student, st status) {
	if rec, ok := s.records[student.ID]; ok {
		rec.student = student
		rec.status = st
		return
	}
	s.records[student.ID] = &record{student: student, status: st}
	s.order = append(s.order, student.ID)
}

// remove deletes a record. Callers hold the write lock.
func (s *Store) remove(id string) {
	if _, ok := s.records[id]; !ok {
		return
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// assemble completes a student from the API with its payments.
func (s *Store) assemble(st core.Student, payments []core.Payment) core.Student {
	st = st.Clone()
	if st.DateAdded.IsZero() {
		st.DateAdded = core.DateOf(s.now())
	}
	st.Payments = make([]core.Payment, 0, len(payments))
	for _, p := range payments {
		if p.StudentID == "" {
			p.StudentID = st.ID
		}
		st.Payments = append(st.Payments, p)
	}
	return st
}

// Load replaces local state with the server's. A failure listing active
// students leaves state untouched; a failure listing deleted students empties
// that view. A student whose payments cannot be fetched is kept with none.
func (s *Store) Load(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	return s.finish(s.load(ctx))
}

// Refresh is Load under the name the dashboard uses.
func (s *Store) Refresh(ctx context.Context) error {
	return s.Load(ctx)
}

func (s *Store) load(ctx context.Context) error {
	active, err := s.fetch(ctx, s.api.ListStudents)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load students", log.FieldError, err)
		return fmt.Errorf("load students: %w", err)
	}

	deleted, err := s.fetch(ctx, s.api.ListDeletedStudents)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to load deleted students, continuing without them", log.FieldError, err)
		deleted = nil
	}

	return s.commit(func() {
		s.records = make(map[string]*record, len(active)+len(deleted))
		s.order = make([]string, 0, len(active)+len(deleted))
		for _, l := range active {
			l.student.DeletedAt = nil
			s.insertLoaded(l, statusActive)
		}
		for _, l := range deleted {
			if l.student.DeletedAt == nil {
				at := s.now()
				l.student.DeletedAt = &at
			}
			s.insertLoaded(l, statusDeleted)
		}
		s.logger.InfoContext(ctx, "Students loaded", "active", len(active), "deleted", len(deleted))
	})
}

func (s *Store) insertLoaded(l loaded, status status) {
	if _, dup := s.records[l.student.ID]; dup {
		s.logger.Warn("Student listed twice, keeping first occurrence", log.FieldStudentID, l.student.ID)
		return
	}
	s.put(l.student, status)
	s.records[l.student.ID].paymentsUnknown = l.paymentsUnknown
}

// fetch lists students and fetches each one's payments concurrently. A
// failed payments fetch keeps the student with no payments.
func (s *Store) fetch(ctx context.Context, list func(context.Context) ([]core.Student, error)) ([]loaded, error) {
	students, err := list(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]loaded, len(students))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i, st := range students {
		g.Go(func() error {
			payments, err := s.api.ListPayments(gctx, st.ID)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.WarnContext(gctx, "Failed to load payments, keeping student without them",
					log.FieldStudentID, st.ID, log.FieldError, err)
				out[i] = loaded{student: s.assemble(st, nil), paymentsUnknown: true}
				return nil
			}
			out[i] = loaded{student: s.assemble(st, payments)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// AddStudent creates a student and appends it to the active view.
func (s *Store) AddStudent(ctx context.Context, fields core.StudentFields) (core.Student, error) {
	if err := s.begin(); err != nil {
		return core.Student{}, err
	}
	st, err := s.addStudent(ctx, fields)
	return st, s.finish(err)
}

func (s *Store) addStudent(ctx context.Context, fields core.StudentFields) (core.Student, error) {
	fields = fields.Normalize()
	if err := fields.Validate(); err != nil {
		return core.Student{}, fmt.Errorf("add student: %w", err)
	}

	created, err := s.api.CreateStudent(ctx, fields)
	if err != nil {
		return core.Student{}, fmt.Errorf("add student: %w", err)
	}
	if created.ID == "" {
		return core.Student{}, fmt.Errorf("add student: %w", ErrEmptyResponse)
	}

	student := s.assemble(created, nil)
	student.DeletedAt = nil
	if err := s.commit(func() { s.put(student, statusActive) }); err != nil {
		return core.Student{}, err
	}
	s.logger.InfoContext(ctx, "Student added", log.FieldStudentID, student.ID)
	return student.Clone(), nil
}

// UpdateStudent sends the editable fields and replaces the local record with
// the server's version. Payments are re-fetched; when that fails the locally
// held payments are kept.
func (s *Store) UpdateStudent(ctx context.Context, student core.Student) (core.Student, error) {
	if err := s.begin(); err != nil {
		return core.Student{}, err
	}
	st, err := s.updateStudent(ctx, student)
	return st, s.finish(err)
}

func (s *Store) updateStudent(ctx context.Context, student core.Student) (core.Student, error) {
	fields := student.StudentFields.Normalize()
	if err := fields.Validate(); err != nil {
		return core.Student{}, fmt.Errorf("update student: %w", err)
	}
	existing, ok := s.lookup(student.ID)
	if !ok {
		return core.Student{}, fmt.Errorf("update student %s: %w", student.ID, core.ErrStudentNotFound)
	}

	updated, err := s.api.UpdateStudent(ctx, student.ID, fields)
	if err != nil {
		return core.Student{}, fmt.Errorf("update student: %w", err)
	}
	if updated.ID == "" {
		updated = existing.student
		updated.StudentFields = fields
	}
	if !existing.student.DateAdded.IsZero() {
		updated.DateAdded = existing.student.DateAdded
	}

	paymentsUnknown := false
	payments, err := s.api.ListPayments(ctx, student.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to refresh payments after update, keeping local copy",
			log.FieldStudentID, student.ID, log.FieldError, err)
		payments = existing.student.Payments
		paymentsUnknown = existing.paymentsUnknown
	}

	full := s.assemble(updated, payments)
	st := statusActive
	if full.IsDeleted() {
		st = statusDeleted
	}
	err = s.commit(func() {
		if _, ok := s.records[full.ID]; ok {
			s.put(full, st)
			s.records[full.ID].paymentsUnknown = paymentsUnknown
		}
	})
	if err != nil {
		return core.Student{}, err
	}
	return full.Clone(), nil
}

// DeleteStudent soft-deletes an active student or permanently deletes a
// soft-deleted one. A permanent delete of a student that owns payments is
// refused without calling the API.
func (s *Store) DeleteStudent(ctx context.Context, student core.Student) error {
	if err := s.begin(); err != nil {
		return err
	}
	return s.finish(s.deleteStudent(ctx, student.ID))
}

func (s *Store) deleteStudent(ctx context.Context, id string) error {
	rec, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("delete student %s: %w", id, core.ErrStudentNotFound)
	}

	if rec.status == statusDeleted {
		if n := len(rec.student.Payments); n > 0 {
			return fmt.Errorf("delete student %s (%d payments): %w", id, n, core.ErrStudentHasPayments)
		}
		if rec.paymentsUnknown {
			return fmt.Errorf("delete student %s (payments not loaded): %w", id, core.ErrStudentHasPayments)
		}
		if err := s.api.DeleteStudent(ctx, id); err != nil {
			return fmt.Errorf("delete student: %w", err)
		}
		if err := s.commit(func() { s.remove(id) }); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "Student permanently deleted", log.FieldStudentID, id)
		return nil
	}

	resp, err := s.api.SoftDeleteStudent(ctx, id)
	if err != nil {
		return fmt.Errorf("soft delete student: %w", err)
	}
	deletedAt := s.now()
	if resp.DeletedAt != nil {
		deletedAt = *resp.DeletedAt
	}
	err = s.commit(func() {
		if r, ok := s.records[id]; ok {
			r.status = statusDeleted
			r.student.DeletedAt = &deletedAt
		}
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Student moved to deleted", log.FieldStudentID, id)
	return nil
}

// RestoreStudent moves a soft-deleted student back to the active view.
func (s *Store) RestoreStudent(ctx context.Context, student core.Student) (core.Student, error) {
	if err := s.begin(); err != nil {
		return core.Student{}, err
	}
	st, err := s.restoreStudent(ctx, student.ID)
	return st, s.finish(err)
}

func (s *Store) restoreStudent(ctx context.Context, id string) (core.Student, error) {
	rec, ok := s.lookup(id)
	if !ok {
		return core.Student{}, fmt.Errorf("restore student %s: %w", id, core.ErrStudentNotFound)
	}
	if rec.status != statusDeleted {
		return core.Student{}, fmt.Errorf("restore student %s: %w", id, core.ErrStudentNotDeleted)
	}

	if _, err := s.api.RestoreStudent(ctx, id); err != nil {
		return core.Student{}, fmt.Errorf("restore student: %w", err)
	}

	restored := rec.student
	restored.DeletedAt = nil
	err := s.commit(func() {
		if r, ok := s.records[id]; ok {
			r.status = statusActive
			r.student.DeletedAt = nil
			restored = r.student.Clone()
		}
	})
	if err != nil {
		return core.Student{}, err
	}
	s.logger.InfoContext(ctx, "Student restored", log.FieldStudentID, id)
	return restored, nil
}

// AddPayment records an unconfirmed payment dated today for an active student.
func (s *Store) AddPayment(ctx context.Context, studentID string, amount core.Money) (core.Payment, error) {
	if err := s.begin(); err != nil {
		return core.Payment{}, err
	}
	p, err := s.addPayment(ctx, studentID, amount)
	return p, s.finish(err)
}

func (s *Store) addPayment(ctx context.Context, studentID string, amount core.Money) (core.Payment, error) {
	if err := core.ValidateAmount(amount); err != nil {
		return core.Payment{}, fmt.Errorf("add payment: %w", err)
	}
	rec, ok := s.lookup(studentID)
	if !ok {
		return core.Payment{}, fmt.Errorf("add payment for student %s: %w", studentID, core.ErrStudentNotFound)
	}
	if rec.status != statusActive {
		return core.Payment{}, fmt.Errorf("add payment for student %s: %w", studentID, core.ErrStudentNotActive)
	}

	now := s.now()
	req := core.PaymentRequest{
		StudentID: studentID,
		Amount:    amount,
		Date:      core.DateOf(now),
		Month:     strconv.Itoa(int(now.Month())),
		Year:      now.Year(),
		Confirmed: false,
	}
	created, err := s.api.CreatePayment(ctx, req)
	if err != nil {
		return core.Payment{}, fmt.Errorf("add payment: %w", err)
	}
	if created.ID == "" {
		return core.Payment{}, fmt.Errorf("add payment: %w", ErrEmptyResponse)
	}
	created.StudentID = studentID
	if created.Date.IsZero() {
		created.Date = req.Date
	}
	if created.Month == "" {
		created.Month = req.Month
	}
	if created.Year == 0 {
		created.Year = req.Year
	}

	err = s.commit(func() {
		if r, ok := s.records[studentID]; ok {
			r.student.Payments = append(r.student.Payments, created)
		}
	})
	if err != nil {
		return core.Payment{}, err
	}
	s.logger.InfoContext(ctx, "Payment added",
		log.FieldStudentID, studentID,
		log.FieldPaymentID, created.ID,
		log.FieldAmount, created.Amount.String())
	return created, nil
}

// ConfirmResult is the outcome of a confirmation. Warning is set when the
// payment was confirmed but its receipt could not be created.
type ConfirmResult struct {
	Payment core.Payment
	Receipt *core.Receipt
	Warning error
}

// ConfirmPayment confirms a payment and issues its receipt. A receipt failure
// does not fail the confirmation.
func (s *Store) ConfirmPayment(ctx context.Context, studentID, paymentID string) (ConfirmResult, error) {
	if err := s.begin(); err != nil {
		return ConfirmResult{}, err
	}
	res, err := s.confirmPayment(ctx, studentID, paymentID)
	return res, s.finish(err)
}

func (s *Store) confirmPayment(ctx context.Context, studentID, paymentID string) (ConfirmResult, error) {
	payment, err := s.findPayment(studentID, paymentID)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("confirm payment: %w", err)
	}

	if err := s.api.ConfirmPayment(ctx, paymentID); err != nil {
		return ConfirmResult{}, fmt.Errorf("confirm payment: %w", err)
	}
	payment.Confirmed = true
	result := ConfirmResult{Payment: payment}

	req := core.ReceiptRequest{
		PaymentID: paymentID,
		ReceiptNo: core.ReceiptNumber(s.now()),
		CopyType:  core.CopyTypeStudent,
	}
	receipt, err := s.api.CreateReceipt(ctx, req)
	if err != nil {
		result.Warning = fmt.Errorf("payment confirmed but receipt creation failed: %w", err)
		s.logger.WarnContext(ctx, "Receipt creation failed after confirmation",
			log.FieldPaymentID, paymentID, log.FieldReceiptNo, req.ReceiptNo, log.FieldError, err)
		if s.retry != nil {
			if perr := s.retry.PublishReceiptRetry(ctx, req); perr != nil {
				s.logger.ErrorContext(ctx, "Failed to queue receipt retry", log.FieldPaymentID, paymentID, log.FieldError, perr)
			}
		}
	} else {
		result.Receipt = &receipt
	}

	err = s.commit(func() {
		if r, ok := s.records[studentID]; ok {
			for i := range r.student.Payments {
				if r.student.Payments[i].ID == paymentID {
					r.student.Payments[i].Confirmed = true
				}
			}
		}
	})
	if err != nil {
		return ConfirmResult{}, err
	}
	s.logger.InfoContext(ctx, "Payment confirmed", log.FieldStudentID, studentID, log.FieldPaymentID, paymentID)
	return result, nil
}

// DeletePayment removes a payment, deleting its receipt first when it was
// confirmed. A missing receipt is not an error; any other receipt failure
// aborts and the payment is kept.
func (s *Store) DeletePayment(ctx context.Context, studentID, paymentID string) error {
	if err := s.begin(); err != nil {
		return err
	}
	return s.finish(s.deletePayment(ctx, studentID, paymentID))
}

func (s *Store) deletePayment(ctx context.Context, studentID, paymentID string) error {
	payment, err := s.findPayment(studentID, paymentID)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}

	if payment.Confirmed {
		if err := s.deleteReceiptFor(ctx, paymentID); err != nil {
			return fmt.Errorf("delete payment: %w", err)
		}
	}

	if err := s.api.DeletePayment(ctx, paymentID); err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}

	err = s.commit(func() {
		if r, ok := s.records[studentID]; ok {
			kept := r.student.Payments[:0]
			for _, p := range r.student.Payments {
				if p.ID != paymentID {
					kept = append(kept, p)
				}
			}
			r.student.Payments = kept
		}
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Payment deleted", log.FieldStudentID, studentID, log.FieldPaymentID, paymentID)
	return nil
}

func (s *Store) deleteReceiptFor(ctx context.Context, paymentID string) error {
	receipt, err := s.api.ReceiptByPayment(ctx, paymentID)
	if err != nil {
		if api.IsNotFound(err) {
			s.logger.DebugContext(ctx, "No receipt for payment", log.FieldPaymentID, paymentID)
			return nil
		}
		return fmt.Errorf("look up receipt: %w", err)
	}
	if receipt.ID == "" {
		return nil
	}
	if err := s.api.DeleteReceipt(ctx, receipt.ID); err != nil {
		if api.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete receipt %s: %w", receipt.ID, err)
	}
	s.logger.InfoContext(ctx, "Receipt deleted", log.FieldPaymentID, paymentID, log.FieldReceiptID, receipt.ID)
	return nil
}

// findPayment locates a payment in either view.
func (s *Store) findPayment(studentID, paymentID string) (core.Payment, error) {
	rec, ok := s.lookup(studentID)
	if !ok {
		return core.Payment{}, fmt.Errorf("student %s: %w", studentID, core.ErrStudentNotFound)
	}
	p, ok := rec.student.Payment(paymentID)
	if !ok {
		return core.Payment{}, fmt.Errorf("payment %s: %w", paymentID, core.ErrPaymentNotFound)
	}
	return p, nil
}

// Receipt fetches the receipt issued for a payment.
func (s *Store) Receipt(ctx context.Context, paymentID string) (core.Receipt, error) {
	if err := s.begin(); err != nil {
		return core.Receipt{}, err
	}
	receipt, err := s.api.ReceiptByPayment(ctx, paymentID)
	if err != nil {
		err = fmt.Errorf("get receipt: %w", err)
	}
	return receipt, s.finish(err)
}
