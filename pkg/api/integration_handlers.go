package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/forgeworks/tollgate/pkg/audit"
	"github.com/forgeworks/tollgate/pkg/httputil"
	"github.com/forgeworks/tollgate/pkg/integrations"
)

// IntegrationHandlers manages tenant integrations over HTTP.
type IntegrationHandlers struct {
	service  *integrations.Service
	registry integrations.Registry
	auditLog audit.Logger
}

// NewIntegrationHandlers creates a new IntegrationHandlers
func NewIntegrationHandlers(service *integrations.Service, registry integrations.Registry, auditLog audit.Logger) *IntegrationHandlers {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &IntegrationHandlers{service: service, registry: registry, auditLog: auditLog}
}

// RegisterRoutes registers integration routes
func (h *IntegrationHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants/{id}/integrations", h.ListIntegrations).Methods("GET")
	router.HandleFunc("/tenants/{id}/integrations/{provider}", h.ConnectIntegration).Methods("PUT")
	router.HandleFunc("/tenants/{id}/integrations/{provider}", h.GetIntegration).Methods("GET")
	router.HandleFunc("/tenants/{id}/integrations/{provider}", h.DisconnectIntegration).Methods("DELETE")
	router.HandleFunc("/tenants/{id}/audit", h.ListAuditEvents).Methods("GET")
}

type connectIntegrationRequest struct {
	Credentials map[string]string `json:"credentials"`
	Settings    map[string]string `json:"settings"`
}

// ConnectIntegration provisions the integration and exchanges
// credentials with the provider. Responses never echo secrets.
func (h *IntegrationHandlers) ConnectIntegration(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req connectIntegrationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	integration, err := h.service.Connect(r.Context(), vars["id"], vars["provider"], req.Credentials, req.Settings)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
		return
	}
	httputil.WriteSuccess(w, integration)
}

// GetIntegration returns one integration, configuration redacted.
func (h *IntegrationHandlers) GetIntegration(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	integration, err := h.registry.Get(r.Context(), vars["id"], vars["provider"])
	if err != nil {
		if integrations.IsNotFound(err) {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, integration)
}

// ListIntegrations returns all of the tenant's integrations.
func (h *IntegrationHandlers) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	list, err := h.registry.List(r.Context(), tenantID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if list == nil {
		list = []*integrations.Integration{}
	}
	httputil.WriteSuccess(w, list)
}

// DisconnectIntegration revokes the integration.
func (h *IntegrationHandlers) DisconnectIntegration(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	integration, err := h.service.Disconnect(r.Context(), vars["id"], vars["provider"])
	if err != nil {
		if integrations.IsNotFound(err) {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, integration)
}

// ListAuditEvents returns the tenant's recent audit trail.
func (h *IntegrationHandlers) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.auditLog.List(r.Context(), tenantID, limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	httputil.WriteSuccess(w, events)
}
