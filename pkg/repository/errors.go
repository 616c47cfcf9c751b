package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes translated by MapError.
const (
	codeUniqueViolation  = "23505"
	codeCheckViolation   = "23514"
	codeLockNotAvailable = "55P03"
)

// ErrLocked indicates a row lock could not be acquired (NOWAIT or lock_timeout).
var ErrLocked = errors.New("row is locked")

// Errors holds the domain errors MapError substitutes for database conditions.
// A nil field leaves the matching condition unmapped.
type Errors struct {
	NotFound  error
	Duplicate error
	Invalid   error
}

// MapError translates database errors into domain errors: sql.ErrNoRows to
// NotFound, unique violations to Duplicate, check violations to Invalid, and
// lock-not-available to ErrLocked. Other errors are returned unchanged.
func MapError(err error, domain Errors) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) && domain.NotFound != nil {
		return domain.NotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch {
	case pgErr.Code == codeUniqueViolation && domain.Duplicate != nil:
		return domain.Duplicate
	case pgErr.Code == codeCheckViolation && domain.Invalid != nil:
		return domain.Invalid
	case pgErr.Code == codeLockNotAvailable:
		return ErrLocked
	}
	return err
}
