// Package extraction is the boundary to the document-understanding service. The
// pipeline hands a Runner a Request and receives exactly one terminal callback per
// invocation through Callback. Engines perform the extraction itself.
package extraction

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/assay/internal/audits"
)

var (
	// ErrClosed is returned by Run after the runner has begun shutting down.
	ErrClosed = errors.New("extraction runner closed")
	// ErrEngine wraps failures reported by an extraction engine.
	ErrEngine = errors.New("extraction engine failed")
	// ErrInvalidResult indicates an engine payload that failed schema validation.
	ErrInvalidResult = errors.New("invalid extraction result")
)

// Request identifies one extraction attempt of a stored document.
type Request struct {
	AuditID     uuid.UUID
	Attempt     int
	DocumentRef string
	Filename    string
	ContentType string
	AuditType   audits.AuditType
}

// Document is a Request together with the stored document stream.
type Document struct {
	Request
	Body io.Reader
}

// Result is the structured outcome of a successful extraction.
type Result struct {
	audits.Extraction
	AuditDate      *time.Time
	Classification audits.Grade
	Reason         string
}

// Callback receives the lifecycle of a run. Start is called once before the
// engine runs; exactly one of Complete or Fail follows.
type Callback interface {
	Start(ctx context.Context, id uuid.UUID, attempt int) error
	Complete(ctx context.Context, id uuid.UUID, attempt int, result *Result) error
	Fail(ctx context.Context, id uuid.UUID, attempt int, reason string) error
}

// Runner accepts extraction work. Run returns once the request is accepted; the
// outcome is delivered to cb asynchronously. Re-running the same audit and
// document is safe and produces a fresh terminal callback.
type Runner interface {
	Run(ctx context.Context, req Request, cb Callback) error
}

// Engine extracts structured fields and a suggested grade from a document.
type Engine interface {
	Extract(ctx context.Context, doc Document) (*Result, error)
}

// Source opens stored documents by reference.
type Source interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}
