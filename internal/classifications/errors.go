package classifications

import (
	"errors"
	"net/http"

	"github.com/JaimeStill/assay/internal/audits"
)

var (
	ErrNotesTooShort = errors.New("classification notes too short")
	ErrNotesTooLong  = errors.New("classification notes too long")
	ErrInvalidState  = errors.New("audit is not completed")
)

// MapHTTPStatus maps override errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotesTooShort), errors.Is(err, ErrNotesTooLong):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	}
	return audits.MapHTTPStatus(err)
}
