package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/forgeworks/tollgate/pkg/billing"
	"github.com/forgeworks/tollgate/pkg/httputil"
	"github.com/forgeworks/tollgate/pkg/plans"
)

// SubscriptionHandlers handles subscription lifecycle requests.
type SubscriptionHandlers struct {
	coordinator *billing.Coordinator
}

// NewSubscriptionHandlers creates a new SubscriptionHandlers
func NewSubscriptionHandlers(coordinator *billing.Coordinator) *SubscriptionHandlers {
	return &SubscriptionHandlers{coordinator: coordinator}
}

// RegisterRoutes registers subscription and invoice routes
func (h *SubscriptionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants/{id}/subscription", h.CreateSubscription).Methods("POST")
	router.HandleFunc("/tenants/{id}/subscription", h.GetSubscription).Methods("GET")
	router.HandleFunc("/tenants/{id}/subscription/change-plan", h.ChangePlan).Methods("POST")
	router.HandleFunc("/tenants/{id}/subscription/cancel", h.CancelSubscription).Methods("POST")

	router.HandleFunc("/tenants/{id}/invoices", h.ListInvoices).Methods("GET")
	router.HandleFunc("/tenants/{id}/invoices/{invoice_id}", h.GetInvoice).Methods("GET")
	router.HandleFunc("/tenants/{id}/charges", h.CreateCharge).Methods("POST")
}

// writeBillingError maps billing errors onto HTTP statuses.
func writeBillingError(w http.ResponseWriter, err error) {
	switch {
	case plans.IsNotFound(err) || billing.IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	case billing.IsInvalidState(err):
		httputil.WriteConflict(w, err.Error())
	case billing.IsGatewayError(err):
		httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

// CreateSubscription starts a subscription for the tenant.
func (h *SubscriptionHandlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	var req billing.CreateSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PlanID, "plan_id") {
		return
	}

	sub, err := h.coordinator.Create(r.Context(), tenantID, &req)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteCreated(w, sub)
}

// GetSubscription returns the tenant's current subscription.
func (h *SubscriptionHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	sub, err := h.coordinator.GetByTenant(r.Context(), tenantID)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

type changePlanRequest struct {
	PlanID string `json:"plan_id"`
}

// ChangePlan moves the tenant's subscription to a new plan.
func (h *SubscriptionHandlers) ChangePlan(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	var req changePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PlanID, "plan_id") {
		return
	}

	sub, err := h.coordinator.ChangePlan(r.Context(), tenantID, req.PlanID)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

type cancelRequest struct {
	Immediately bool `json:"immediately"`
}

// CancelSubscription ends the subscription, at period end by default.
func (h *SubscriptionHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	// An empty body means cancel at period end.
	req := cancelRequest{}
	if r.ContentLength > 0 {
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
	}

	sub, err := h.coordinator.Cancel(r.Context(), tenantID, req.Immediately)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// ListInvoices returns the tenant's invoices, newest first.
func (h *SubscriptionHandlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	invoices, err := h.coordinator.ListInvoices(r.Context(), tenantID, limit)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	if invoices == nil {
		invoices = []*billing.Invoice{}
	}
	httputil.WriteSuccess(w, invoices)
}

// GetInvoice returns one invoice with its line items.
func (h *SubscriptionHandlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	invoice, err := h.coordinator.GetInvoice(r.Context(), vars["id"], vars["invoice_id"])
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

type createChargeRequest struct {
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
}

// CreateCharge records a one-time charge against the tenant.
func (h *SubscriptionHandlers) CreateCharge(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	var req createChargeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Description, "description") {
		return
	}
	if !httputil.RequirePositive(w, req.AmountCents, "amount_cents") {
		return
	}

	invoice, err := h.coordinator.CreateCharge(r.Context(), tenantID, req.Description, req.AmountCents)
	if err != nil {
		writeBillingError(w, err)
		return
	}
	httputil.WriteCreated(w, invoice)
}
