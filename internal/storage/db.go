package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{
		db: tx,
	}
}

// Row types mirror the tables.

type StudentRow struct {
	ID          string
	Name        string
	Department  string
	StudyLevel  string
	BirthPlace  string
	RoomNumber  string
	FloorNumber string
	DateAdded   string
	DeletedAt   sql.NullString
}

type PaymentRow struct {
	ID        string
	StudentID string
	Amount    string
	Date      string
	Month     string
	Year      int64
	Confirmed bool
}

type ReceiptRow struct {
	ID        string
	PaymentID string
	ReceiptNo string
	CopyType  string
}
