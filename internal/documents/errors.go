package documents

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JaimeStill/assay/pkg/formatting"
)

// Intake errors. Every one of them is raised before any state is created.
var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrInvalidDocument      = errors.New("invalid document")
	ErrNotFound             = errors.New("document not found")
)

// SizeError reports an upload that exceeds the configured maximum.
type SizeError struct {
	Size int64
	Max  int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("File size exceeds maximum of %s (%s)",
		formatting.FormatMegabytes(e.Max, -1),
		formatting.FormatMegabytes(e.Size, 1),
	)
}

func (e *SizeError) Unwrap() error {
	return ErrPayloadTooLarge
}

// MediaTypeError reports an upload whose media type is not accepted.
type MediaTypeError struct {
	MediaType string
	Accepted  []string
}

func (e *MediaTypeError) Error() string {
	return fmt.Sprintf("Unsupported media type %q: accepted %v", e.MediaType, e.Accepted)
}

func (e *MediaTypeError) Unwrap() error {
	return ErrUnsupportedMediaType
}

// MapHTTPStatus maps intake and document errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
