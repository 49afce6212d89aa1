package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dormpay/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(ctx context.Context, dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Run migrations before opening the main connection
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func parseOptionalDate(s string) (core.Date, error) {
	if s == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(s)
}

func toStudent(row StudentRow) (core.Student, error) {
	added, err := parseOptionalDate(row.DateAdded)
	if err != nil {
		return core.Student{}, fmt.Errorf("student %s date_added: %w", row.ID, err)
	}
	s := core.Student{
		ID: row.ID,
		StudentFields: core.StudentFields{
			Name:        row.Name,
			Department:  row.Department,
			StudyLevel:  row.StudyLevel,
			BirthPlace:  row.BirthPlace,
			RoomNumber:  row.RoomNumber,
			FloorNumber: row.FloorNumber,
		},
		DateAdded: added,
	}
	if row.DeletedAt.Valid {
		at, err := time.Parse(time.RFC3339Nano, row.DeletedAt.String)
		if err != nil {
			return core.Student{}, fmt.Errorf("student %s deleted_at: %w", row.ID, err)
		}
		s.DeletedAt = &at
	}
	return s, nil
}

func toStudents(rows []StudentRow) ([]core.Student, error) {
	out := make([]core.Student, 0, len(rows))
	for _, row := range rows {
		s, err := toStudent(row)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func toPayment(row PaymentRow) (core.Payment, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.Payment{}, fmt.Errorf("payment %s amount: %w", row.ID, err)
	}
	date, err := parseOptionalDate(row.Date)
	if err != nil {
		return core.Payment{}, fmt.Errorf("payment %s date: %w", row.ID, err)
	}
	return core.Payment{
		ID:        row.ID,
		StudentID: row.StudentID,
		Amount:    amount,
		Date:      date,
		Month:     row.Month,
		Year:      int(row.Year),
		Confirmed: row.Confirmed,
	}, nil
}

func toReceipt(row ReceiptRow) core.Receipt {
	return core.Receipt{ID: row.ID, PaymentID: row.PaymentID, ReceiptNo: row.ReceiptNo, CopyType: row.CopyType}
}

// notFound maps sql.ErrNoRows to the given domain error.
func notFound(err error, domainErr error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domainErr
	}
	return err
}

func (r *SQLiteRepository) ListStudents(ctx context.Context) ([]core.Student, error) {
	rows, err := r.queries.ListStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return toStudents(rows)
}

func (r *SQLiteRepository) ListDeletedStudents(ctx context.Context) ([]core.Student, error) {
	rows, err := r.queries.ListDeletedStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list deleted students: %w", err)
	}
	return toStudents(rows)
}

func (r *SQLiteRepository) GetStudent(ctx context.Context, id string) (core.Student, error) {
	row, err := r.queries.GetStudent(ctx, id)
	if err != nil {
		return core.Student{}, notFound(err, core.ErrStudentNotFound)
	}
	return toStudent(row)
}

func (r *SQLiteRepository) CreateStudent(ctx context.Context, fields core.StudentFields, added core.Date) (core.Student, error) {
	if err := fields.Validate(); err != nil {
		return core.Student{}, err
	}
	row := StudentRow{
		ID:          uuid.NewString(),
		Name:        fields.Name,
		Department:  fields.Department,
		StudyLevel:  fields.StudyLevel,
		BirthPlace:  fields.BirthPlace,
		RoomNumber:  fields.RoomNumber,
		FloorNumber: fields.FloorNumber,
		DateAdded:   added.String(),
	}
	if err := r.queries.CreateStudent(ctx, row); err != nil {
		return core.Student{}, fmt.Errorf("create student: %w", err)
	}

	slog.InfoContext(ctx, "Student saved to SQLite", "id", row.ID)
	return r.GetStudent(ctx, row.ID)
}

func (r *SQLiteRepository) UpdateStudent(ctx context.Context, id string, fields core.StudentFields) (core.Student, error) {
	if err := fields.Validate(); err != nil {
		return core.Student{}, err
	}
	n, err := r.queries.UpdateStudent(ctx, StudentRow{
		ID:          id,
		Name:        fields.Name,
		Department:  fields.Department,
		StudyLevel:  fields.StudyLevel,
		BirthPlace:  fields.BirthPlace,
		RoomNumber:  fields.RoomNumber,
		FloorNumber: fields.FloorNumber,
	})
	if err != nil {
		return core.Student{}, fmt.Errorf("update student: %w", err)
	}
	if n == 0 {
		return core.Student{}, core.ErrStudentNotFound
	}
	return r.GetStudent(ctx, id)
}

// SoftDeleteStudent keeps the first deletion time when called twice.
func (r *SQLiteRepository) SoftDeleteStudent(ctx context.Context, id string, at time.Time) (core.Student, error) {
	n, err := r.queries.SetStudentDeletedAt(ctx, id, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return core.Student{}, fmt.Errorf("soft delete student: %w", err)
	}
	if n == 0 {
		return core.Student{}, core.ErrStudentNotFound
	}
	return r.GetStudent(ctx, id)
}

func (r *SQLiteRepository) RestoreStudent(ctx context.Context, id string) (core.Student, error) {
	n, err := r.queries.ClearStudentDeletedAt(ctx, id)
	if err != nil {
		return core.Student{}, fmt.Errorf("restore student: %w", err)
	}
	if n == 0 {
		return core.Student{}, core.ErrStudentNotFound
	}
	return r.GetStudent(ctx, id)
}

func (r *SQLiteRepository) DeleteStudent(ctx context.Context, id string) error {
	return r.withTx(ctx, func(q *Queries) error {
		count, err := q.CountStudentPayments(ctx, id)
		if err != nil {
			return fmt.Errorf("count payments: %w", err)
		}
		if count > 0 {
			return core.ErrStudentHasPayments
		}
		n, err := q.DeleteStudent(ctx, id)
		if err != nil {
			return fmt.Errorf("delete student: %w", err)
		}
		if n == 0 {
			return core.ErrStudentNotFound
		}
		return nil
	})
}

func (r *SQLiteRepository) ListPayments(ctx context.Context, studentID string) ([]core.Payment, error) {
	if _, err := r.queries.GetStudent(ctx, studentID); err != nil {
		return nil, notFound(err, core.ErrStudentNotFound)
	}
	rows, err := r.queries.ListPaymentsByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	out := make([]core.Payment, 0, len(rows))
	for _, row := range rows {
		p, err := toPayment(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *SQLiteRepository) CreatePayment(ctx context.Context, req core.PaymentRequest) (core.Payment, error) {
	if err := core.ValidateAmount(req.Amount); err != nil {
		return core.Payment{}, err
	}
	if _, err := r.queries.GetStudent(ctx, req.StudentID); err != nil {
		return core.Payment{}, notFound(err, core.ErrStudentNotFound)
	}
	row := PaymentRow{
		ID:        uuid.NewString(),
		StudentID: req.StudentID,
		Amount:    req.Amount.String(),
		Date:      req.Date.String(),
		Month:     req.Month,
		Year:      int64(req.Year),
		Confirmed: req.Confirmed,
	}
	if err := r.queries.CreatePayment(ctx, row); err != nil {
		return core.Payment{}, fmt.Errorf("create payment: %w", err)
	}

	slog.InfoContext(ctx, "Payment saved to SQLite", "id", row.ID, "student_id", row.StudentID, "amount", row.Amount)
	return toPayment(row)
}

func (r *SQLiteRepository) ConfirmPayment(ctx context.Context, id string) error {
	n, err := r.queries.ConfirmPayment(ctx, id)
	if err != nil {
		return fmt.Errorf("confirm payment: %w", err)
	}
	if n == 0 {
		return core.ErrPaymentNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeletePayment(ctx context.Context, id string) error {
	return r.withTx(ctx, func(q *Queries) error {
		_, err := q.GetReceiptByPayment(ctx, id)
		if err == nil {
			return core.ErrPaymentHasReceipt
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("look up receipt: %w", err)
		}
		n, err := q.DeletePayment(ctx, id)
		if err != nil {
			return fmt.Errorf("delete payment: %w", err)
		}
		if n == 0 {
			return core.ErrPaymentNotFound
		}
		return nil
	})
}

func (r *SQLiteRepository) CreateReceipt(ctx context.Context, req core.ReceiptRequest) (core.Receipt, error) {
	row := ReceiptRow{
		ID:        uuid.NewString(),
		PaymentID: req.PaymentID,
		ReceiptNo: req.ReceiptNo,
		CopyType:  req.CopyType,
	}
	err := r.withTx(ctx, func(q *Queries) error {
		p, err := q.GetPayment(ctx, req.PaymentID)
		if err != nil {
			return notFound(err, core.ErrPaymentNotFound)
		}
		if !p.Confirmed {
			return core.ErrPaymentNotConfirmed
		}
		if _, err := q.GetReceiptByPayment(ctx, req.PaymentID); err == nil {
			return core.ErrReceiptExists
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("look up receipt: %w", err)
		}
		if err := q.CreateReceipt(ctx, row); err != nil {
			return fmt.Errorf("create receipt: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Receipt{}, err
	}
	return toReceipt(row), nil
}

func (r *SQLiteRepository) ReceiptByPayment(ctx context.Context, paymentID string) (core.Receipt, error) {
	row, err := r.queries.GetReceiptByPayment(ctx, paymentID)
	if err != nil {
		return core.Receipt{}, notFound(err, core.ErrReceiptNotFound)
	}
	return toReceipt(row), nil
}

func (r *SQLiteRepository) GetReceipt(ctx context.Context, id string) (core.Receipt, error) {
	row, err := r.queries.GetReceipt(ctx, id)
	if err != nil {
		return core.Receipt{}, notFound(err, core.ErrReceiptNotFound)
	}
	return toReceipt(row), nil
}

func (r *SQLiteRepository) DeleteReceipt(ctx context.Context, id string) error {
	n, err := r.queries.DeleteReceipt(ctx, id)
	if err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	if n == 0 {
		return core.ErrReceiptNotFound
	}
	return nil
}

// Summary aggregates the reports summary over active students in SQL.
func (r *SQLiteRepository) Summary(ctx context.Context, now time.Time) (core.ReportsSummary, error) {
	total, err := r.queries.CountActiveStudents(ctx)
	if err != nil {
		return core.ReportsSummary{}, fmt.Errorf("count students: %w", err)
	}
	rows, err := r.queries.ListActiveConfirmedPayments(ctx)
	if err != nil {
		return core.ReportsSummary{}, fmt.Errorf("list confirmed payments: %w", err)
	}

	year, month := now.Year(), int(now.Month())
	summary := core.ReportsSummary{
		TotalStudents:   int(total),
		TotalPayments:   decimal.Zero,
		MonthlyPayments: decimal.Zero,
	}
	activeThisMonth := make(map[string]struct{})
	for _, row := range rows {
		p, err := toPayment(row)
		if err != nil {
			return core.ReportsSummary{}, err
		}
		summary.TotalPayments = summary.TotalPayments.Add(p.Amount)
		if p.InMonth(year, month) {
			summary.MonthlyPayments = summary.MonthlyPayments.Add(p.Amount)
			activeThisMonth[p.StudentID] = struct{}{}
		}
	}
	summary.ActiveStudents = len(activeThisMonth)
	summary.InactiveStudents = summary.TotalStudents - summary.ActiveStudents
	summary.MonthlyActiveCount = summary.ActiveStudents
	return summary, nil
}
