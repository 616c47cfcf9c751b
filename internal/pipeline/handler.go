package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/JaimeStill/assay/internal/audits"
	"github.com/JaimeStill/assay/internal/documents"
	"github.com/JaimeStill/assay/pkg/handlers"
	"github.com/JaimeStill/assay/pkg/routes"
)

// multipartMemory is the part of a multipart body buffered in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// Handler serves document intake, reprocessing, and document download.
type Handler struct {
	sys            System
	logger         *slog.Logger
	maxUploadSize  int64
	maxRequestSize int64
}

// NewHandler creates a Handler. maxUploadSize is the documented document limit
// reported when maxRequestSize cuts a request body short.
func NewHandler(sys System, logger *slog.Logger, maxUploadSize, maxRequestSize int64) *Handler {
	return &Handler{
		sys:            sys,
		logger:         logger.With("handler", "pipeline"),
		maxUploadSize:  maxUploadSize,
		maxRequestSize: maxRequestSize,
	}
}

// Routes returns the pipeline routes under the supplier audit prefix.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: audits.SupplierPrefix,
		Routes: []routes.Route{
			{Method: "POST", Pattern: "", Handler: h.Upload},
			{Method: "POST", Pattern: "/{audit_id}/reprocess", Handler: h.Reprocess},
			{Method: "GET", Pattern: "/{audit_id}/download", Handler: h.Download},
		},
	}
}

// Upload accepts a multipart form with a document part and an audit_type field,
// plus an optional audit_date (YYYY-MM-DD).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestSize)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = &RequestSizeError{Size: max(r.ContentLength, 0), Max: tooLarge.Limit}
			handlers.RespondError(w, h.logger, http.StatusRequestEntityTooLarge, err)
			return
		}
		handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidUpload, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	cmd := SubmitCommand{
		SupplierID: r.PathValue("supplier_id"),
		AuditType:  r.FormValue("audit_type"),
	}

	if v := r.FormValue("audit_date"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: audit_date: %w", ErrInvalidUpload, err))
			return
		}
		cmd.AuditDate = &d
	}

	upload, err := readDocument(r)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	cmd.Upload = *upload

	a, err := h.sys.Submit(r.Context(), cmd)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusCreated, a)
}

// Reprocess re-runs extraction of a completed or failed audit.
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, err := audits.ParseID(r.PathValue("audit_id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	a, err := h.sys.Reprocess(r.Context(), r.PathValue("supplier_id"), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusAccepted, a)
}

// Download streams the stored document of an audit.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := audits.ParseID(r.PathValue("audit_id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	a, body, err := h.sys.Open(r.Context(), r.PathValue("supplier_id"), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	defer body.Close()

	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if a.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(a.SizeBytes, 10))
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": a.Filename,
	}))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("document stream interrupted", "audit_id", a.ID, "error", err)
	}
}

// readDocument reads the document part, accepting "document" or "file" as the
// field name.
func readDocument(r *http.Request) (*documents.Upload, error) {
	file, header, err := r.FormFile("document")
	if errors.Is(err, http.ErrMissingFile) {
		file, header, err = r.FormFile("file")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: document part: %w", ErrInvalidUpload, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: read document: %w", ErrInvalidUpload, err)
	}

	return &documents.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Data:        data,
	}, nil
}
