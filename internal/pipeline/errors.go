package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JaimeStill/assay/internal/audits"
	"github.com/JaimeStill/assay/internal/documents"
	"github.com/JaimeStill/assay/pkg/formatting"
)

var (
	// ErrInvalidTransition indicates an operation not applicable to the audit's
	// current extraction status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStaleAttempt indicates a callback from a superseded extraction attempt.
	ErrStaleAttempt = errors.New("stale extraction attempt")
	// ErrInvalidUpload indicates a malformed upload request.
	ErrInvalidUpload = errors.New("invalid upload")
)

// RequestSizeError reports a multipart request cut off at the request size
// limit. Size is the declared Content-Length, zero when the client sent none;
// the file size is unknown because the body is abandoned at the limit.
type RequestSizeError struct {
	Size int64
	Max  int64
}

func (e *RequestSizeError) Error() string {
	msg := "Request size exceeds maximum of " + formatting.FormatMegabytes(e.Max, -1)
	if e.Size > 0 {
		msg += fmt.Sprintf(" (%s)", formatting.FormatMegabytes(e.Size, 1))
	}
	return msg
}

func (e *RequestSizeError) Unwrap() error {
	return documents.ErrPayloadTooLarge
}

// MapHTTPStatus maps pipeline, intake, and record errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStaleAttempt):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidUpload):
		return http.StatusBadRequest
	case errors.Is(err, documents.ErrUnsupportedMediaType),
		errors.Is(err, documents.ErrPayloadTooLarge),
		errors.Is(err, documents.ErrInvalidDocument),
		errors.Is(err, documents.ErrNotFound):
		return documents.MapHTTPStatus(err)
	}
	return audits.MapHTTPStatus(err)
}
