package repository

import (
	"database/sql"
	"errors"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicateAccessKey = errors.New("invoice with this access key already stored")
	ErrDuplicateLabel     = errors.New("label code already stored")
)

// querier is the subset shared by *sql.DB and *sql.Tx
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func pick(db *sql.DB, tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return db
}
