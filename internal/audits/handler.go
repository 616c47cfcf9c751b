package audits

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/assay/pkg/handlers"
	"github.com/JaimeStill/assay/pkg/pagination"
	"github.com/JaimeStill/assay/pkg/routes"
)

// SupplierPrefix is the route prefix of a supplier's audit collection.
const SupplierPrefix = "/suppliers/{supplier_id}/audits"

// Handler serves the read side of audit records.
type Handler struct {
	sys          System
	logger       *slog.Logger
	pagination   pagination.Config
	pollInterval time.Duration
}

// SearchRequest combines pagination and filter criteria for the search endpoint.
type SearchRequest struct {
	pagination.PageRequest
	Filters
}

// NewHandler creates a Handler. pollInterval is advertised to pollers while any audit
// is in flight.
func NewHandler(sys System, logger *slog.Logger, pagination pagination.Config, pollInterval time.Duration) *Handler {
	return &Handler{
		sys:          sys,
		logger:       logger.With("handler", "audits"),
		pagination:   pagination,
		pollInterval: pollInterval,
	}
}

// Routes returns the supplier history routes and the operator search routes.
func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Children: []routes.Group{
			{
				Prefix: SupplierPrefix,
				Routes: []routes.Route{
					{Method: "GET", Pattern: "", Handler: h.Poll},
					{Method: "GET", Pattern: "/latest", Handler: h.Latest},
					{Method: "GET", Pattern: "/export", Handler: h.Export},
					{Method: "GET", Pattern: "/{audit_id}", Handler: h.Find},
					{Method: "GET", Pattern: "/{audit_id}/attempts", Handler: h.Attempts},
				},
			},
			{
				Prefix: "/audits",
				Routes: []routes.Route{
					{Method: "GET", Pattern: "", Handler: h.List},
					{Method: "POST", Pattern: "/search", Handler: h.Search},
				},
			},
		},
	}
}

// Poll returns the supplier's ordered history with the in-flight flag. While any
// audit is in flight the response carries Retry-After with the poll interval.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplier(w, r)
	if !ok {
		return
	}

	result, err := Poll(r.Context(), h.sys, supplierID, h.pollInterval)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	if result.AnyInFlight {
		w.Header().Set("Retry-After", strconv.Itoa(result.PollInterval))
	}
	handlers.RespondJSON(w, http.StatusOK, result)
}

// Latest returns position 0 of the supplier's history.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplier(w, r)
	if !ok {
		return
	}

	a, err := Latest(r.Context(), h.sys, supplierID)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, a)
}

// Find returns one audit of the supplier.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	a, ok := h.owned(w, r)
	if !ok {
		return
	}
	handlers.RespondJSON(w, http.StatusOK, a)
}

// Attempts returns the terminal extraction attempts of one audit, oldest first.
func (h *Handler) Attempts(w http.ResponseWriter, r *http.Request) {
	a, ok := h.owned(w, r)
	if !ok {
		return
	}

	list, err := h.sys.Attempts(r.Context(), a.ID)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, list)
}

// Export streams the supplier's ordered history as an XLSX workbook.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := h.supplier(w, r)
	if !ok {
		return
	}

	list, err := h.sys.List(r.Context(), supplierID)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, list); err != nil {
		handlers.RespondError(w, h.logger, http.StatusInternalServerError, err)
		return
	}

	filename := fmt.Sprintf("audits-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

// List pages through audits across suppliers using query parameter filters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromQuery(r.URL.Query(), h.pagination)
	filters, err := FiltersFromQuery(r.URL.Query())
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.Search(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, result)
}

// Search accepts pagination and filter criteria as a JSON body.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}
	req.PageRequest.Normalize(h.pagination)

	result, err := h.sys.Search(r.Context(), req.PageRequest, req.Filters)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) supplier(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("supplier_id")
	if err := ValidateSupplierID(id); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return "", false
	}
	return id, true
}

func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*Audit, bool) {
	supplierID, ok := h.supplier(w, r)
	if !ok {
		return nil, false
	}

	id, err := ParseID(r.PathValue("audit_id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return nil, false
	}

	a, err := FindOwned(r.Context(), h.sys, supplierID, id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return nil, false
	}
	return a, true
}

// ParseID parses an audit id path value. Malformed ids are reported as ErrNotFound.
func ParseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}
