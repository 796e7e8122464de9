package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the repositories branch on.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
)

// UniqueViolation reports whether err is a unique constraint violation and returns the
// violated constraint name.
func UniqueViolation(err error) (string, bool) {
	return violation(err, CodeUniqueViolation)
}

// ForeignKeyViolation reports whether err is a foreign key violation and returns the
// violated constraint name.
func ForeignKeyViolation(err error) (string, bool) {
	return violation(err, CodeForeignKeyViolation)
}

func violation(err error, code string) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != code {
		return "", false
	}
	return pgErr.ConstraintName, true
}
