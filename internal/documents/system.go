package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/JaimeStill/assay/pkg/storage"
)

// System is the intake validator plus the blob collaborator for audit documents.
type System interface {
	// Validate checks media type, then size. It has no side effects.
	Validate(u Upload) error
	// Store validates u and writes it under a key derived from supplierID and auditID.
	Store(ctx context.Context, supplierID string, auditID uuid.UUID, u Upload) (*Stored, error)
	// Open streams the document at ref. The caller closes the reader.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Remove deletes the document at ref. Used only to compensate a failed record insert.
	Remove(ctx context.Context, ref string) error
}

type intake struct {
	blobs    storage.System
	maxSize  int64
	accepted []string
	logger   *slog.Logger
}

// New creates the document system over blobs.
func New(blobs storage.System, cfg Config, logger *slog.Logger) System {
	accepted := make([]string, 0, len(cfg.AcceptedTypes))
	for _, t := range cfg.AcceptedTypes {
		accepted = append(accepted, strings.ToLower(strings.TrimSpace(t)))
	}
	if len(accepted) == 0 {
		accepted = []string{"application/pdf"}
	}

	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	return &intake{
		blobs:    blobs,
		maxSize:  maxSize,
		accepted: accepted,
		logger:   logger.With("system", "documents"),
	}
}

func (d *intake) Validate(u Upload) error {
	mt := NormalizeMediaType(u.ContentType, u.Data)
	if !slices.Contains(d.accepted, mt) {
		return &MediaTypeError{MediaType: mt, Accepted: d.accepted}
	}
	if u.Size > d.maxSize {
		return &SizeError{Size: u.Size, Max: d.maxSize}
	}
	if u.Size <= 0 || len(u.Data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidDocument)
	}
	return nil
}

func (d *intake) Store(ctx context.Context, supplierID string, auditID uuid.UUID, u Upload) (*Stored, error) {
	if err := d.Validate(u); err != nil {
		return nil, err
	}

	mt := NormalizeMediaType(u.ContentType, u.Data)
	ref := Key(supplierID, auditID, u.Filename)

	if err := d.blobs.Upload(ctx, ref, bytes.NewReader(u.Data), mt); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	d.logger.Info("document stored", "audit_id", auditID, "ref", ref, "size", u.Size)
	return &Stored{Ref: ref, PageCount: d.pageCount(u.Data, mt)}, nil
}

func (d *intake) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	rc, err := d.blobs.Download(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	return rc, nil
}

func (d *intake) Remove(ctx context.Context, ref string) error {
	err := d.blobs.Delete(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (d *intake) pageCount(data []byte, mediaType string) *int {
	if mediaType != "application/pdf" {
		return nil
	}

	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		d.logger.Warn("pdf page count failed", "error", err)
		return nil
	}
	return &n
}

// Key is the blob key of an audit document:
// suppliers/{supplier_id}/audits/{audit_id}/{filename}.
func Key(supplierID string, auditID uuid.UUID, filename string) string {
	return fmt.Sprintf("suppliers/%s/audits/%s/%s", url.PathEscape(supplierID), auditID, SanitizeFilename(filename))
}

// SanitizeFilename reduces name to a single escaped path segment.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	return url.PathEscape(name)
}
