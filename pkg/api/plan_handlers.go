package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/forgeworks/tollgate/pkg/audit"
	"github.com/forgeworks/tollgate/pkg/httputil"
	"github.com/forgeworks/tollgate/pkg/observability"
	"github.com/forgeworks/tollgate/pkg/plans"
)

// PlanHandlers serves the plan catalog.
type PlanHandlers struct {
	catalog  plans.Catalog
	auditLog audit.Logger
	logger   *observability.Logger
}

// NewPlanHandlers creates a new PlanHandlers. auditLog and logger may be
// nil.
func NewPlanHandlers(catalog plans.Catalog, auditLog audit.Logger, logger *observability.Logger) *PlanHandlers {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &PlanHandlers{catalog: catalog, auditLog: auditLog, logger: logger}
}

// RegisterRoutes registers the tenant-facing catalog routes. These are
// read-only; plan creation is administrative and lives on the ops
// listener via RegisterAdminRoutes.
func (h *PlanHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/plans", h.ListPlans).Methods("GET")
	router.HandleFunc("/plans/{id}", h.GetPlan).Methods("GET")
}

// RegisterAdminRoutes mounts plan administration on the ops listener,
// which is never exposed to tenants. A tenant that could mint its own
// zero-price unlimited plan would walk straight past enforcement.
func (h *PlanHandlers) RegisterAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/admin/plans", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.CreatePlan(w, r)
	})
}

// ListPlans returns all plans ordered by ascending price.
func (h *PlanHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.ListPlans(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

// GetPlan returns one plan by id.
func (h *PlanHandlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	plan, err := h.catalog.GetPlan(r.Context(), id)
	if err != nil {
		if plans.IsNotFound(err) {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// CreatePlan admits an administratively defined plan to the catalog.
func (h *PlanHandlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var plan plans.Plan
	if !httputil.ParseJSONOrError(w, r, &plan) {
		return
	}
	if err := plan.Validate(); err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	created, err := h.catalog.CreatePlan(r.Context(), &plan)
	if err != nil {
		httputil.WriteError(w, http.StatusConflict, err)
		return
	}

	if err := h.auditLog.Log(r.Context(), &audit.Event{
		EventType:    audit.EventTypePlanCreated,
		Actor:        audit.ActorAdmin,
		ResourceType: "plan",
		ResourceID:   created.ID,
		Message:      "plan created",
	}); err != nil {
		h.logger.WithError(err).WithField("plan_id", created.ID).
			Warn("failed to write plan audit entry")
	}
	httputil.WriteCreated(w, created)
}
