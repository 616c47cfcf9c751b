package audits

import (
	"errors"
	"net/http"
)

// Domain errors for audit records.
var (
	ErrNotFound         = errors.New("audit not found")
	ErrDuplicate        = errors.New("audit already exists")
	ErrInvalidAuditType = errors.New("invalid audit type")
	ErrInvalidGrade     = errors.New("invalid classification grade")
	ErrInvalidStatus    = errors.New("invalid extraction status")
	ErrInvalidSupplier  = errors.New("invalid supplier id")
	ErrInvalidRecord    = errors.New("audit record violates a constraint")
)

// ErrNoChange is returned by a Mutate callback to end the transaction without
// writing. Mutate then returns the current record and a nil error.
var ErrNoChange = errors.New("no change")

// MapHTTPStatus maps audit domain errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidGrade):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidAuditType),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidSupplier):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
