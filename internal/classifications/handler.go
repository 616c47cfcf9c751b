package classifications

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JaimeStill/assay/internal/audits"
	"github.com/JaimeStill/assay/pkg/auth"
	"github.com/JaimeStill/assay/pkg/handlers"
	"github.com/JaimeStill/assay/pkg/routes"
)

// Handler serves manual classification overrides.
type Handler struct {
	sys    System
	logger *slog.Logger
}

func NewHandler(sys System, logger *slog.Logger) *Handler {
	return &Handler{
		sys:    sys,
		logger: logger.With("handler", "classifications"),
	}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: audits.SupplierPrefix + "/{audit_id}",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "/override", Handler: h.Override},
			{Method: "GET", Pattern: "/overrides", Handler: h.Trail},
		},
	}
}

// Override decodes an OverrideCommand body. The verified caller identity, when
// present, is recorded as the actor.
func (h *Handler) Override(w http.ResponseWriter, r *http.Request) {
	supplierID := r.PathValue("supplier_id")
	id, err := audits.ParseID(r.PathValue("audit_id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	var cmd OverrideCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	var actor string
	if identity, ok := auth.FromContext(r.Context()); ok {
		actor = identity.Actor()
	}

	o, err := cmd.Resolve(supplierID, actor)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	a, err := h.sys.Override(r.Context(), id, o)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, a)
}

// Trail returns the override trail of one audit.
func (h *Handler) Trail(w http.ResponseWriter, r *http.Request) {
	id, err := audits.ParseID(r.PathValue("audit_id"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	trail, err := h.sys.Trail(r.Context(), r.PathValue("supplier_id"), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, trail)
}
