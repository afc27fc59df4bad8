package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/forgeworks/tollgate/pkg/billing"
	"github.com/forgeworks/tollgate/pkg/httputil"
	"github.com/forgeworks/tollgate/pkg/limits"
	"github.com/forgeworks/tollgate/pkg/observability"
	"github.com/forgeworks/tollgate/pkg/usage"
)

// UsageHandlers serves usage recording, breakdowns, and limit reports.
type UsageHandlers struct {
	ledger   usage.Ledger
	enforcer *limits.Enforcer
	metrics  *observability.Metrics
}

// NewUsageHandlers creates a new UsageHandlers. metrics may be nil.
func NewUsageHandlers(ledger usage.Ledger, enforcer *limits.Enforcer, metrics *observability.Metrics) *UsageHandlers {
	return &UsageHandlers{ledger: ledger, enforcer: enforcer, metrics: metrics}
}

func (h *UsageHandlers) countRecord(metric, status string) {
	if h.metrics != nil {
		h.metrics.UsageRecordsTotal.WithLabelValues(metric, status).Inc()
	}
}

// RegisterRoutes registers usage and limit routes
func (h *UsageHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tenants/{id}/usage", h.RecordUsage).Methods("POST")
	router.HandleFunc("/tenants/{id}/usage", h.GetUsage).Methods("GET")
	router.HandleFunc("/tenants/{id}/limits", h.GetLimits).Methods("GET")
}

type recordUsageRequest struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

// RecordUsage appends a usage event. Recording is accepted even when the
// tenant is over its limits; enforcement is a separate read.
func (h *UsageHandlers) RecordUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	var req recordUsageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Metric, "metric") {
		return
	}
	if req.Value < 0 {
		httputil.WriteValidationError(w, "value must not be negative")
		return
	}

	if err := h.ledger.Record(r.Context(), tenantID, req.Metric, req.Value, time.Now().UTC()); err != nil {
		if usage.IsTrackingError(err) {
			// Best-effort by contract: the caller's action already
			// happened, so acknowledge and let operators see the logs.
			h.countRecord(req.Metric, "failed")
			httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
			return
		}
		httputil.WriteValidationError(w, err.Error())
		return
	}
	h.countRecord(req.Metric, "ok")
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

type usageResponse struct {
	TenantID    string             `json:"tenant_id"`
	WindowStart time.Time          `json:"window_start"`
	WindowEnd   time.Time          `json:"window_end"`
	Metrics     map[string]float64 `json:"metrics"`
}

// GetUsage returns the tenant's aggregated usage for the current window.
func (h *UsageHandlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]
	from, to := limits.Window(time.Now())

	breakdown, err := h.ledger.Breakdown(r.Context(), tenantID, from, to)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if breakdown == nil {
		breakdown = map[string]float64{}
	}
	httputil.WriteSuccess(w, usageResponse{
		TenantID:    tenantID,
		WindowStart: from,
		WindowEnd:   to,
		Metrics:     breakdown,
	})
}

// GetLimits returns the tenant's full limit report, or a single-metric
// admission precheck when ?metric= is given.
func (h *UsageHandlers) GetLimits(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["id"]

	if metric := r.URL.Query().Get("metric"); metric != "" {
		h.checkMetric(w, r, tenantID, metric)
		return
	}

	report, err := h.enforcer.Check(r.Context(), tenantID)
	if err != nil {
		if billing.IsNotFound(err) {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

type metricCheckResponse struct {
	TenantID string  `json:"tenant_id"`
	Metric   string  `json:"metric"`
	Allowed  bool    `json:"allowed"`
	Current  float64 `json:"current,omitempty"`
	Limit    int64   `json:"limit,omitempty"`
}

// checkMetric answers an admission precheck for one metric. Services
// that gate an expensive action on a single ceiling ask here instead of
// pulling the full report; a denial carries the current value and the
// plan ceiling.
func (h *UsageHandlers) checkMetric(w http.ResponseWriter, r *http.Request, tenantID, metric string) {
	err := h.enforcer.CheckMetric(r.Context(), tenantID, metric)
	var exceeded *limits.LimitExceededError
	switch {
	case err == nil:
		httputil.WriteSuccess(w, metricCheckResponse{TenantID: tenantID, Metric: metric, Allowed: true})
	case errors.As(err, &exceeded):
		httputil.WriteJSON(w, http.StatusPaymentRequired, metricCheckResponse{
			TenantID: tenantID,
			Metric:   metric,
			Allowed:  false,
			Current:  exceeded.Current,
			Limit:    exceeded.Limit,
		})
	case billing.IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
