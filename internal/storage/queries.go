package storage

import (
	"context"
	"database/sql"
)

const studentColumns = `id, name, department, study_level, birth_place, room_number, floor_number, date_added, deleted_at`

func scanStudent(row interface{ Scan(...any) error }) (StudentRow, error) {
	var s StudentRow
	err := row.Scan(&s.ID, &s.Name, &s.Department, &s.StudyLevel, &s.BirthPlace,
		&s.RoomNumber, &s.FloorNumber, &s.DateAdded, &s.DeletedAt)
	return s, err
}

const listStudents = `SELECT ` + studentColumns + ` FROM students WHERE deleted_at IS NULL ORDER BY seq`

func (q *Queries) ListStudents(ctx context.Context) ([]StudentRow, error) {
	return q.queryStudents(ctx, listStudents)
}

const listDeletedStudents = `SELECT ` + studentColumns + ` FROM students WHERE deleted_at IS NOT NULL ORDER BY seq`

func (q *Queries) ListDeletedStudents(ctx context.Context) ([]StudentRow, error) {
	return q.queryStudents(ctx, listDeletedStudents)
}

func (q *Queries) queryStudents(ctx context.Context, query string, args ...interface{}) ([]StudentRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []StudentRow{}
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getStudent = `SELECT ` + studentColumns + ` FROM students WHERE id = ?`

func (q *Queries) GetStudent(ctx context.Context, id string) (StudentRow, error) {
	return scanStudent(q.db.QueryRowContext(ctx, getStudent, id))
}

const createStudent = `INSERT INTO students (id, name, department, study_level, birth_place, room_number, floor_number, date_added)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateStudent(ctx context.Context, s StudentRow) error {
	_, err := q.db.ExecContext(ctx, createStudent, s.ID, s.Name, s.Department, s.StudyLevel,
		s.BirthPlace, s.RoomNumber, s.FloorNumber, s.DateAdded)
	return err
}

const updateStudent = `UPDATE students
SET name = ?, department = ?, study_level = ?, birth_place = ?, room_number = ?, floor_number = ?
WHERE id = ?`

func (q *Queries) UpdateStudent(ctx context.Context, s StudentRow) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateStudent, s.Name, s.Department, s.StudyLevel,
		s.BirthPlace, s.RoomNumber, s.FloorNumber, s.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const setStudentDeletedAt = `UPDATE students SET deleted_at = COALESCE(deleted_at, ?) WHERE id = ?`

func (q *Queries) SetStudentDeletedAt(ctx context.Context, id string, at string) (int64, error) {
	res, err := q.db.ExecContext(ctx, setStudentDeletedAt, at, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const clearStudentDeletedAt = `UPDATE students SET deleted_at = NULL WHERE id = ?`

func (q *Queries) ClearStudentDeletedAt(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, clearStudentDeletedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteStudent = `DELETE FROM students WHERE id = ?`

func (q *Queries) DeleteStudent(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteStudent, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countStudentPayments = `SELECT COUNT(*) FROM payments WHERE student_id = ?`

func (q *Queries) CountStudentPayments(ctx context.Context, studentID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countStudentPayments, studentID).Scan(&n)
	return n, err
}

const paymentColumns = `id, student_id, amount, date, month, year, confirmed`

func scanPayment(row interface{ Scan(...any) error }) (PaymentRow, error) {
	var p PaymentRow
	err := row.Scan(&p.ID, &p.StudentID, &p.Amount, &p.Date, &p.Month, &p.Year, &p.Confirmed)
	return p, err
}

const listPaymentsByStudent = `SELECT ` + paymentColumns + ` FROM payments WHERE student_id = ? ORDER BY seq`

func (q *Queries) ListPaymentsByStudent(ctx context.Context, studentID string) ([]PaymentRow, error) {
	rows, err := q.db.QueryContext(ctx, listPaymentsByStudent, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PaymentRow{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listActiveConfirmedPayments = `SELECT p.id, p.student_id, p.amount, p.date, p.month, p.year, p.confirmed
FROM payments p JOIN students s ON s.id = p.student_id
WHERE s.deleted_at IS NULL AND p.confirmed = 1
ORDER BY p.seq`

// ListActiveConfirmedPayments returns confirmed payments of active students.
func (q *Queries) ListActiveConfirmedPayments(ctx context.Context) ([]PaymentRow, error) {
	rows, err := q.db.QueryContext(ctx, listActiveConfirmedPayments)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []PaymentRow{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countActiveStudents = `SELECT COUNT(*) FROM students WHERE deleted_at IS NULL`

func (q *Queries) CountActiveStudents(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countActiveStudents).Scan(&n)
	return n, err
}

const getPayment = `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`

func (q *Queries) GetPayment(ctx context.Context, id string) (PaymentRow, error) {
	return scanPayment(q.db.QueryRowContext(ctx, getPayment, id))
}

const createPayment = `INSERT INTO payments (id, student_id, amount, date, month, year, confirmed)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreatePayment(ctx context.Context, p PaymentRow) error {
	_, err := q.db.ExecContext(ctx, createPayment, p.ID, p.StudentID, p.Amount, p.Date, p.Month, p.Year, p.Confirmed)
	return err
}

const confirmPayment = `UPDATE payments SET confirmed = 1 WHERE id = ?`

func (q *Queries) ConfirmPayment(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, confirmPayment, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deletePayment = `DELETE FROM payments WHERE id = ?`

func (q *Queries) DeletePayment(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deletePayment, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const receiptColumns = `id, payment_id, receipt_no, copy_type`

func scanReceipt(row *sql.Row) (ReceiptRow, error) {
	var r ReceiptRow
	err := row.Scan(&r.ID, &r.PaymentID, &r.ReceiptNo, &r.CopyType)
	return r, err
}

const getReceipt = `SELECT ` + receiptColumns + ` FROM receipts WHERE id = ?`

func (q *Queries) GetReceipt(ctx context.Context, id string) (ReceiptRow, error) {
	return scanReceipt(q.db.QueryRowContext(ctx, getReceipt, id))
}

const getReceiptByPayment = `SELECT ` + receiptColumns + ` FROM receipts WHERE payment_id = ?`

func (q *Queries) GetReceiptByPayment(ctx context.Context, paymentID string) (ReceiptRow, error) {
	return scanReceipt(q.db.QueryRowContext(ctx, getReceiptByPayment, paymentID))
}

const createReceipt = `INSERT INTO receipts (id, payment_id, receipt_no, copy_type) VALUES (?, ?, ?, ?)`

func (q *Queries) CreateReceipt(ctx context.Context, r ReceiptRow) error {
	_, err := q.db.ExecContext(ctx, createReceipt, r.ID, r.PaymentID, r.ReceiptNo, r.CopyType)
	return err
}

const deleteReceipt = `DELETE FROM receipts WHERE id = ?`

func (q *Queries) DeleteReceipt(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteReceipt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
