package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dormpay/internal/api"
	"dormpay/internal/core"
	"dormpay/internal/log"
)

var testNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T, f *fakeAPI, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow }), WithLogger(log.Discard())}, opts...)
	s := New(f, opts...)
	require.NoError(t, s.Init(context.Background()))
	t.Cleanup(s.Teardown)
	return s
}

func student(id, name string) core.Student {
	return core.Student{ID: id, StudentFields: core.StudentFields{Name: name}, DateAdded: core.NewDate(2024, 1, 10)}
}

func payment(id string, amount int64, confirmed bool) core.Payment {
	return core.Payment{ID: id, Amount: core.NewMoney(amount, 0), Date: core.NewDate(2024, 3, 1), Month: "3", Year: 2024, Confirmed: confirmed}
}

func deletedStudent(id, name string) core.Student {
	s := student(id, name)
	at := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	s.DeletedAt = &at
	return s
}

func ids(students []core.Student) []string {
	out := []string{}
	for _, s := range students {
		out = append(out, s.ID)
	}
	return out
}

// assertExclusive checks that no id appears in both views.
func assertExclusive(t *testing.T, s *Store) {
	t.Helper()
	seen := map[string]bool{}
	for _, st := range s.Active() {
		assert.Nil(t, st.DeletedAt, "active student %s has deletedAt", st.ID)
		seen[st.ID] = true
	}
	for _, st := range s.Deleted() {
		assert.NotNil(t, st.DeletedAt, "deleted student %s has no deletedAt", st.ID)
		assert.False(t, seen[st.ID], "student %s in both views", st.ID)
	}
}

func TestLoadAssemblesPayments(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, true), payment("p2", 50, false))
	f.seedStudent(student("b", "Bruno"))
	f.seedStudent(deletedStudent("c", "Carla"), payment("p3", 10, true))

	s := newTestStore(t, f)

	active := s.Active()
	require.Equal(t, []string{"a", "b"}, ids(active))
	require.Len(t, active[0].Payments, 2)
	assert.Equal(t, "a", active[0].Payments[0].StudentID)
	assert.NotNil(t, active[1].Payments)

	deleted := s.Deleted()
	require.Equal(t, []string{"c"}, ids(deleted))
	require.Len(t, deleted[0].Payments, 1)

	assert.False(t, s.Loading())
	assert.Empty(t, s.Err())
	assertExclusive(t, s)
}

func TestLoadDefaultsDateAdded(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(core.Student{ID: "a", StudentFields: core.StudentFields{Name: "Ana"}})
	s := newTestStore(t, f)
	assert.Equal(t, "2024-03-15", s.Active()[0].DateAdded.String())
}

func TestLoadDeletedFailureDegrades(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"))
	f.seedStudent(deletedStudent("c", "Carla"))
	f.fail["ListDeletedStudents"] = &api.Error{Status: 500, Message: "boom"}

	s := newTestStore(t, f)
	assert.Equal(t, []string{"a"}, ids(s.Active()))
	assert.Empty(t, s.Deleted())
	assert.Empty(t, s.Err())
}

func TestLoadActiveFailureKeepsState(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, true))
	s := newTestStore(t, f)

	f.fail["ListStudents"] = &api.Error{Status: 0, Message: "Network error: refused"}
	err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, s.Err(), "Network error")
	active := s.Active()
	require.Equal(t, []string{"a"}, ids(active))
	assert.Len(t, active[0].Payments, 1)

	var apiErr *api.Error
	assert.True(t, errors.As(err, &apiErr))
}

func TestLoadKeepsStudentsWhosePaymentsFail(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, true))
	f.seedStudent(student("b", "Bruno"), payment("p2", 40, true))
	f.seedStudent(deletedStudent("d1", "Dora"), payment("p3", 10, true))
	f.seedStudent(deletedStudent("d2", "Davi"), payment("p4", 20, true))
	f.fail["ListPayments:b"] = &api.Error{Status: 500, Message: "payments down"}
	f.fail["ListPayments:d2"] = &api.Error{Status: 500, Message: "payments down"}

	s := newTestStore(t, f)
	assert.Empty(t, s.Err())

	active := s.Active()
	require.Equal(t, []string{"a", "b"}, ids(active))
	assert.Len(t, active[0].Payments, 1)
	assert.Empty(t, active[1].Payments)

	deleted := s.Deleted()
	require.Equal(t, []string{"d1", "d2"}, ids(deleted))
	assert.Len(t, deleted[0].Payments, 1)
	assert.Empty(t, deleted[1].Payments)
	assertExclusive(t, s)

	// d2 may own payments that did not load; a hard delete must not reach the API.
	d2, _, _ := s.Student("d2")
	before := f.called("DeleteStudent")
	err := s.DeleteStudent(context.Background(), d2)
	require.ErrorIs(t, err, core.ErrStudentHasPayments)
	assert.Equal(t, before, f.called("DeleteStudent"))
	assert.Equal(t, []string{"d1", "d2"}, ids(s.Deleted()))
}

func TestLoadedPaymentsClearUnknownFlag(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(deletedStudent("d", "Dora"))
	f.fail["ListPayments:d"] = &api.Error{Status: 500, Message: "payments down"}
	s := newTestStore(t, f)

	d, _, _ := s.Student("d")
	require.ErrorIs(t, s.DeleteStudent(context.Background(), d), core.ErrStudentHasPayments)

	delete(f.fail, "ListPayments:d")
	require.NoError(t, s.Refresh(context.Background()))
	d, _, _ = s.Student("d")
	require.NoError(t, s.DeleteStudent(context.Background(), d))
	assert.Empty(t, s.Deleted())
}

func TestAddStudent(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"))
	s := newTestStore(t, f)

	created, err := s.AddStudent(context.Background(), core.StudentFields{Name: "  Bruno ", RoomNumber: "12"})
	require.NoError(t, err)
	assert.Equal(t, "Bruno", created.Name)
	assert.Empty(t, created.Payments)
	assert.Equal(t, []string{"a", created.ID}, ids(s.Active()))

	before := f.callCount()
	_, err = s.AddStudent(context.Background(), core.StudentFields{})
	require.ErrorIs(t, err, core.ErrInvalidStudent)
	assert.Equal(t, before, f.callCount())
	assert.NotEmpty(t, s.Err())
}

func TestUpdateStudent(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, true))
	s := newTestStore(t, f)

	st, _, ok := s.Student("a")
	require.True(t, ok)
	st.Name = "Ana Maria"
	st.RoomNumber = "7"

	updated, err := s.UpdateStudent(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", updated.Name)
	assert.Len(t, updated.Payments, 1)
	assert.Equal(t, "2024-01-10", updated.DateAdded.String())

	got := s.Active()
	require.Len(t, got, 1)
	assert.Equal(t, "7", got[0].RoomNumber)
}

func TestUpdateStudentKeepsPaymentsWhenRefetchFails(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, true), payment("p2", 5, false))
	s := newTestStore(t, f)

	f.fail["ListPayments"] = &api.Error{Status: 500, Message: "down"}
	st, _, _ := s.Student("a")
	st.Name = "Ana B"
	updated, err := s.UpdateStudent(context.Background(), st)
	require.NoError(t, err)
	assert.Len(t, updated.Payments, 2)
	assert.Equal(t, "Ana B", s.Active()[0].Name)
}

func TestUpdateDeletedStudentStaysDeleted(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(deletedStudent("c", "Carla"))
	s := newTestStore(t, f)

	st, deleted, _ := s.Student("c")
	require.True(t, deleted)
	st.Department = "Law"
	_, err := s.UpdateStudent(context.Background(), st)
	require.NoError(t, err)

	assert.Empty(t, s.Active())
	require.Len(t, s.Deleted(), 1)
	assert.Equal(t, "Law", s.Deleted()[0].Department)
	assertExclusive(t, s)
}

func TestSoftDeleteAndRestoreRoundTrip(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, true))
	f.seedStudent(student("b", "Bruno"))
	s := newTestStore(t, f)
	ctx := context.Background()

	st, _, _ := s.Student("a")
	require.NoError(t, s.DeleteStudent(ctx, st))
	assert.Equal(t, []string{"b"}, ids(s.Active()))
	require.Equal(t, []string{"a"}, ids(s.Deleted()))
	assert.True(t, s.Deleted()[0].DeletedAt.Equal(f.now))
	assertExclusive(t, s)

	restored, err := s.RestoreStudent(ctx, st)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)
	assert.Empty(t, s.Deleted())
	assert.ElementsMatch(t, []string{"a", "b"}, ids(s.Active()))
	assert.Len(t, restored.Payments, 1)
	assertExclusive(t, s)
}

func TestSoftDeleteStampsLocalTimeWhenServerOmitsIt(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"))
	s := New(&noDeletedAtAPI{f}, WithClock(func() time.Time { return testNow }), WithLogger(log.Discard()))
	require.NoError(t, s.Init(context.Background()))

	st, _, _ := s.Student("a")
	require.NoError(t, s.DeleteStudent(context.Background(), st))
	require.Len(t, s.Deleted(), 1)
	assert.True(t, s.Deleted()[0].DeletedAt.Equal(testNow))
}

type noDeletedAtAPI struct{ *fakeAPI }

func (n *noDeletedAtAPI) SoftDeleteStudent(ctx context.Context, id string) (core.Student, error) {
	_, err := n.fakeAPI.SoftDeleteStudent(ctx, id)
	return core.Student{}, err
}

func TestHardDeleteWithPaymentsMakesNoCalls(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(deletedStudent("c", "Carla"), payment("p1", 10, false))
	s := newTestStore(t, f)

	before := f.callCount()
	st, _, _ := s.Student("c")
	err := s.DeleteStudent(context.Background(), st)
	require.ErrorIs(t, err, core.ErrStudentHasPayments)
	assert.Equal(t, before, f.callCount())
	assert.Equal(t, []string{"c"}, ids(s.Deleted()))
	assert.Contains(t, s.Err(), "student has payments")
}

func TestHardDeleteWithoutPayments(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(deletedStudent("c", "Carla"))
	s := newTestStore(t, f)

	st, _, _ := s.Student("c")
	require.NoError(t, s.DeleteStudent(context.Background(), st))
	assert.Empty(t, s.Deleted())
	assert.Empty(t, s.Active())
	assert.Equal(t, 1, f.called("DeleteStudent"))
	assert.Zero(t, f.called("SoftDeleteStudent"))
}

func TestRestoreActiveStudentRefused(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"))
	s := newTestStore(t, f)

	before := f.callCount()
	_, err := s.RestoreStudent(context.Background(), core.Student{ID: "a"})
	require.ErrorIs(t, err, core.ErrStudentNotDeleted)
	assert.Equal(t, before, f.callCount())
}

func TestFailedMutationLeavesStateUnchanged(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"))
	s := newTestStore(t, f)

	f.fail["SoftDeleteStudent"] = &api.Error{Status: 500, Message: "Internal"}
	err := s.DeleteStudent(context.Background(), core.Student{ID: "a"})
	require.Error(t, err)
	assert.Equal(t, 500, api.StatusOf(err))
	assert.Equal(t, []string{"a"}, ids(s.Active()))
	assert.Empty(t, s.Deleted())
	assert.Contains(t, s.Err(), "Internal")

	// the next operation clears the error
	delete(f.fail, "SoftDeleteStudent")
	require.NoError(t, s.Refresh(context.Background()))
	assert.Empty(t, s.Err())
}

func TestAddPaymentAppendsToOneStudent(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p0", 10, true))
	f.seedStudent(student("b", "Bruno"))
	s := newTestStore(t, f)

	p, err := s.AddPayment(context.Background(), "a", core.NewMoney(2550, -2))
	require.NoError(t, err)
	assert.False(t, p.Confirmed)
	assert.Equal(t, "2024-03-15", p.Date.String())
	assert.Equal(t, "3", p.Month)
	assert.Equal(t, 2024, p.Year)
	assert.True(t, p.Amount.Equal(core.NewMoney(2550, -2)))

	a, _, _ := s.Student("a")
	b, _, _ := s.Student("b")
	require.Len(t, a.Payments, 2)
	assert.Equal(t, p.ID, a.Payments[1].ID)
	assert.Empty(t, b.Payments)
}

func TestAddPaymentRejections(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"))
	f.seedStudent(deletedStudent("c", "Carla"))
	s := newTestStore(t, f)
	ctx := context.Background()

	before := f.callCount()
	_, err := s.AddPayment(ctx, "a", core.NewMoney(-1, 0))
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
	_, err = s.AddPayment(ctx, "c", core.NewMoney(1, 0))
	assert.ErrorIs(t, err, core.ErrStudentNotActive)
	_, err = s.AddPayment(ctx, "zzz", core.NewMoney(1, 0))
	assert.ErrorIs(t, err, core.ErrStudentNotFound)
	assert.Equal(t, before, f.callCount())
}

func TestConfirmPaymentCreatesReceipt(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, false))
	s := newTestStore(t, f)

	res, err := s.ConfirmPayment(context.Background(), "a", "p1")
	require.NoError(t, err)
	require.NoError(t, res.Warning)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, "p1", res.Receipt.PaymentID)
	assert.Equal(t, core.CopyTypeStudent, res.Receipt.CopyType)
	assert.Regexp(t, `^REC-20240315\d{3}$`, res.Receipt.ReceiptNo)

	a, _, _ := s.Student("a")
	assert.True(t, a.Payments[0].Confirmed)
}

func TestConfirmPaymentReceiptFailureIsWarning(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, false))
	pub := &recordingPublisher{}
	s := newTestStore(t, f, WithReceiptRetry(pub))

	f.fail["CreateReceipt"] = &api.Error{Status: 500, Message: "receipt service down"}
	res, err := s.ConfirmPayment(context.Background(), "a", "p1")
	require.NoError(t, err)
	require.Error(t, res.Warning)
	assert.Contains(t, res.Warning.Error(), "receipt service down")
	assert.Nil(t, res.Receipt)
	assert.True(t, res.Payment.Confirmed)
	assert.Empty(t, s.Err())

	a, _, _ := s.Student("a")
	assert.True(t, a.Payments[0].Confirmed)

	require.Len(t, pub.reqs, 1)
	assert.Equal(t, "p1", pub.reqs[0].PaymentID)

	// confirming again succeeds and leaves the payment confirmed
	_, err = s.ConfirmPayment(context.Background(), "a", "p1")
	require.NoError(t, err)
	a, _, _ = s.Student("a")
	assert.True(t, a.Payments[0].Confirmed)
}

func TestConfirmPaymentFailureKeepsUnconfirmed(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, false))
	s := newTestStore(t, f)

	f.fail["ConfirmPayment"] = &api.Error{Status: 500, Message: "nope"}
	_, err := s.ConfirmPayment(context.Background(), "a", "p1")
	require.Error(t, err)
	a, _, _ := s.Student("a")
	assert.False(t, a.Payments[0].Confirmed)
	assert.Zero(t, f.called("CreateReceipt"))
}

func TestConfirmUnknownPayment(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"))
	s := newTestStore(t, f)

	_, err := s.ConfirmPayment(context.Background(), "a", "missing")
	require.ErrorIs(t, err, core.ErrPaymentNotFound)
	assert.Zero(t, f.called("ConfirmPayment"))
}

func TestDeleteConfirmedPaymentDeletesReceipt(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, false))
	s := newTestStore(t, f)
	ctx := context.Background()

	_, err := s.ConfirmPayment(ctx, "a", "p1")
	require.NoError(t, err)
	require.NoError(t, s.DeletePayment(ctx, "a", "p1"))

	assert.Equal(t, 1, f.called("DeleteReceipt"))
	assert.Equal(t, 1, f.called("DeletePayment"))
	a, _, _ := s.Student("a")
	assert.Empty(t, a.Payments)
}

func TestDeletePaymentReceiptNotFoundProceeds(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, true))
	s := newTestStore(t, f)

	require.NoError(t, s.DeletePayment(context.Background(), "a", "p1"))
	assert.Zero(t, f.called("DeleteReceipt"))
	assert.Equal(t, 1, f.called("DeletePayment"))
	a, _, _ := s.Student("a")
	assert.Empty(t, a.Payments)
}

func TestDeletePaymentReceiptServerErrorAborts(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, true))
	s := newTestStore(t, f)

	f.fail["ReceiptByPayment"] = &api.Error{Status: 500, Message: "db down"}
	err := s.DeletePayment(context.Background(), "a", "p1")
	require.Error(t, err)
	assert.Equal(t, 500, api.StatusOf(err))
	assert.Zero(t, f.called("DeletePayment"))
	a, _, _ := s.Student("a")
	assert.Len(t, a.Payments, 1)
}

func TestDeleteUnconfirmedPaymentSkipsReceipt(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, false))
	s := newTestStore(t, f)

	require.NoError(t, s.DeletePayment(context.Background(), "a", "p1"))
	assert.Zero(t, f.called("ReceiptByPayment"))
}

func TestDeletePaymentOfDeletedStudent(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(deletedStudent("c", "Carla"), payment("p1", 100, false))
	s := newTestStore(t, f)

	require.NoError(t, s.DeletePayment(context.Background(), "c", "p1"))
	c, deleted, _ := s.Student("c")
	assert.True(t, deleted)
	assert.Empty(t, c.Payments)

	// now the hard delete is allowed
	require.NoError(t, s.DeleteStudent(context.Background(), c))
	assert.Empty(t, s.Deleted())
}

func TestExclusiveMembershipAcrossSequence(t *testing.T) {
	f := newFakeAPI()
	s := newTestStore(t, f)
	ctx := context.Background()

	var created []core.Student
	for _, name := range []string{"A", "B", "C", "D"} {
		st, err := s.AddStudent(ctx, core.StudentFields{Name: name})
		require.NoError(t, err)
		created = append(created, st)
		assertExclusive(t, s)
	}
	require.NoError(t, s.DeleteStudent(ctx, created[0]))
	assertExclusive(t, s)
	require.NoError(t, s.DeleteStudent(ctx, created[1]))
	assertExclusive(t, s)
	_, err := s.RestoreStudent(ctx, created[0])
	require.NoError(t, err)
	assertExclusive(t, s)
	require.NoError(t, s.DeleteStudent(ctx, created[1])) // hard delete
	assertExclusive(t, s)
	require.NoError(t, s.Refresh(ctx))
	assertExclusive(t, s)

	assert.ElementsMatch(t, []string{created[0].ID, created[2].ID, created[3].ID}, ids(s.Active()))
	assert.Empty(t, s.Deleted())
}

func TestReceiptPassthrough(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, false))
	s := newTestStore(t, f)

	_, err := s.Receipt(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))

	_, err = s.ConfirmPayment(context.Background(), "a", "p1")
	require.NoError(t, err)
	r, err := s.Receipt(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", r.PaymentID)
}

func TestViewsAreCopies(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"), payment("p1", 100, false))
	s := newTestStore(t, f)

	v := s.Active()
	v[0].Name = "mutated"
	v[0].Payments[0].Confirmed = true

	a, _, _ := s.Student("a")
	assert.Equal(t, "Ana", a.Name)
	assert.False(t, a.Payments[0].Confirmed)
}

func TestTeardown(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"))
	s := newTestStore(t, f)

	s.Teardown()
	assert.Empty(t, s.Active())
	_, err := s.AddStudent(context.Background(), core.StudentFields{Name: "x"})
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Load(context.Background()), ErrStoreClosed)
}

func TestLoadingDuringCall(t *testing.T) {
	f := newFakeAPI()
	f.seedStudent(student("a", "Ana"))
	block := make(chan struct{})
	entered := make(chan struct{})
	s := New(&blockingAPI{fakeAPI: f, entered: entered, block: block}, WithLogger(log.Discard()))

	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background()) }()
	<-entered
	assert.True(t, s.Loading())
	close(block)
	require.NoError(t, <-done)
	assert.False(t, s.Loading())
}

type blockingAPI struct {
	*fakeAPI
	entered chan struct{}
	block   chan struct{}
}

func (b *blockingAPI) ListStudents(ctx context.Context) ([]core.Student, error) {
	close(b.entered)
	<-b.block
	return b.fakeAPI.ListStudents(ctx)
}
