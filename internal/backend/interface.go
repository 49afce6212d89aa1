package backend

import (
	"context"
	"time"

	"dormpay/internal/core"
)

// StudentRepository persists students. List methods return students without
// payments.
type StudentRepository interface {
	ListStudents(ctx context.Context) ([]core.Student, error)
	ListDeletedStudents(ctx context.Context) ([]core.Student, error)
	GetStudent(ctx context.Context, id string) (core.Student, error)
	CreateStudent(ctx context.Context, fields core.StudentFields, added core.Date) (core.Student, error)
	UpdateStudent(ctx context.Context, id string, fields core.StudentFields) (core.Student, error)
	SoftDeleteStudent(ctx context.Context, id string, at time.Time) (core.Student, error)
	RestoreStudent(ctx context.Context, id string) (core.Student, error)
	// DeleteStudent fails with core.ErrStudentHasPayments while payments exist.
	DeleteStudent(ctx context.Context, id string) error
}

type PaymentRepository interface {
	ListPayments(ctx context.Context, studentID string) ([]core.Payment, error)
	CreatePayment(ctx context.Context, req core.PaymentRequest) (core.Payment, error)
	ConfirmPayment(ctx context.Context, id string) error
	// DeletePayment fails with core.ErrPaymentHasReceipt while a receipt exists.
	DeletePayment(ctx context.Context, id string) error
}

type ReceiptRepository interface {
	// CreateReceipt requires a confirmed payment without a receipt.
	CreateReceipt(ctx context.Context, req core.ReceiptRequest) (core.Receipt, error)
	ReceiptByPayment(ctx context.Context, paymentID string) (core.Receipt, error)
	GetReceipt(ctx context.Context, id string) (core.Receipt, error)
	DeleteReceipt(ctx context.Context, id string) error
}

// Backend is everything the REST server needs.
type Backend interface {
	StudentRepository
	PaymentRepository
	ReceiptRepository
}

// SummaryReader is implemented by backends that aggregate the reports summary
// themselves. Others get query.ComputeReports over their active students.
type SummaryReader interface {
	Summary(ctx context.Context, now time.Time) (core.ReportsSummary, error)
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Backend Backend
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Memory specific: optional JSON file of students with payments.
	SeedFile string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
