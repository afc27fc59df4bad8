package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/forgeworks/tollgate/pkg/billing"
	"github.com/forgeworks/tollgate/pkg/httputil"
	"github.com/forgeworks/tollgate/pkg/limits"
	"github.com/forgeworks/tollgate/pkg/observability"
	"github.com/forgeworks/tollgate/pkg/plans"
	"github.com/forgeworks/tollgate/pkg/usage"
)

// LimitChecker is the slice of the limit enforcer this middleware needs.
type LimitChecker interface {
	Check(ctx context.Context, tenantID string) (*limits.Report, error)
}

// Enforcement denies requests from tenants that are over their plan
// limits.
//
// REQUIRES: TenantContext must run before this middleware. Requests
// without a tenant in context pass through unchecked.
type Enforcement struct {
	checker LimitChecker
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewEnforcement creates an Enforcement middleware. logger and metrics
// may be nil.
func NewEnforcement(checker LimitChecker, logger *observability.Logger, metrics *observability.Metrics) *Enforcement {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Enforcement{checker: checker, logger: logger, metrics: metrics}
}

// limitExceededResponse is the 402 body listing what the tenant is over.
type limitExceededResponse struct {
	Error    string             `json:"error"`
	PlanID   string             `json:"plan_id"`
	Exceeded []string           `json:"exceeded"`
	Current  map[string]float64 `json:"current"`
	Limits   map[string]int64   `json:"limits"`
}

// billableRequest reports whether the request consumes plan capacity.
// Reads never do, and DELETEs release capacity. Plan browsing,
// subscription management, and the processor webhook stay reachable so
// an over-limit tenant can still upgrade or cancel its way out; usage
// and charge reporting are append-only by contract and must never be
// blocked.
func billableRequest(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodDelete:
		return false
	}
	path := r.URL.Path
	if strings.HasPrefix(path, "/plans") || strings.HasPrefix(path, "/billing/") {
		return false
	}
	for _, segment := range []string{"/subscription", "/usage", "/charges"} {
		if strings.Contains(path, segment) {
			return false
		}
	}
	return true
}

// RequireWithinLimits rejects over-limit tenants with 402 Payment
// Required on billable requests. Tenants without a subscription are
// denied the same way. Infrastructure failures during the check are
// logged and let the request through rather than turning an outage
// into a lockout.
func (m *Enforcement) RequireWithinLimits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := TenantID(r.Context())
		if tenantID == "" || !billableRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		report, err := m.checker.Check(r.Context(), tenantID)
		if err != nil {
			if billing.IsNotFound(err) {
				httputil.WriteErrorMessage(w, http.StatusPaymentRequired, "no active subscription")
				return
			}
			m.logger.WithError(err).WithField("tenant_id", tenantID).
				Warn("limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if !report.WithinLimits {
			if m.metrics != nil {
				for _, metric := range report.Exceeded {
					m.metrics.LimitDenialsTotal.WithLabelValues(metric).Inc()
				}
			}
			httputil.WriteJSON(w, http.StatusPaymentRequired, limitExceededResponse{
				Error:    "plan limit exceeded",
				PlanID:   report.PlanID,
				Exceeded: report.Exceeded,
				Current:  report.Current,
				Limits:   report.Limits,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Tracker records API usage into the ledger as requests come in.
type Tracker struct {
	ledger usage.Ledger
	logger *observability.Logger
}

// NewTracker creates a usage tracking middleware. logger may be nil.
func NewTracker(ledger usage.Ledger, logger *observability.Logger) *Tracker {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Tracker{ledger: ledger, logger: logger}
}

// TrackAPICalls counts one api_calls unit per tenant request. Recording
// is fire-and-forget: a ledger outage never delays or fails the request.
func (t *Tracker) TrackAPICalls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID := TenantID(r.Context()); tenantID != "" {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := t.ledger.Record(ctx, tenantID, plans.MetricAPICalls, 1, time.Now().UTC()); err != nil {
					t.logger.WithError(err).WithField("tenant_id", tenantID).
						Warn("failed to record api call usage")
				}
			}()
		}
		next.ServeHTTP(w, r)
	})
}
