package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeworks/tollgate/pkg/billing"
	"github.com/forgeworks/tollgate/pkg/observability"
	"github.com/forgeworks/tollgate/pkg/plans"
	"github.com/forgeworks/tollgate/pkg/usage"
)

// SubscriptionSource resolves a tenant's current subscription.
type SubscriptionSource interface {
	GetByTenant(ctx context.Context, tenantID string) (*billing.Subscription, error)
}

// ConnectedCounter counts a tenant's connected integrations. The live
// count is merged with the gauge history so a just-connected integration
// is enforced immediately.
type ConnectedCounter interface {
	CountConnected(ctx context.Context, tenantID string) (int64, error)
}

// Report is the result of a full limit evaluation.
type Report struct {
	TenantID     string             `json:"tenant_id"`
	PlanID       string             `json:"plan_id"`
	WindowStart  time.Time          `json:"window_start"`
	WindowEnd    time.Time          `json:"window_end"`
	WithinLimits bool               `json:"within_limits"`
	Current      map[string]float64 `json:"current"`
	Limits       map[string]int64   `json:"limits"`
	Exceeded     []string           `json:"exceeded,omitempty"`
}

// LimitExceededError is returned by CheckMetric when the tenant is over
// the plan ceiling for a metric.
type LimitExceededError struct {
	TenantID string
	Metric   string
	Current  float64
	Limit    int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("tenant %s exceeded %s limit: %.0f of %d", e.TenantID, e.Metric, e.Current, e.Limit)
}

// IsLimitExceeded checks if an error is a limit-exceeded error
func IsLimitExceeded(err error) bool {
	_, ok := err.(*LimitExceededError)
	return ok
}

// Enforcer evaluates plan limits over the current billing window.
type Enforcer struct {
	subs    SubscriptionSource
	catalog plans.Catalog
	ledger  usage.Ledger
	counter ConnectedCounter
	logger  *observability.Logger
	nowFunc func() time.Time
}

// NewEnforcer creates an Enforcer. counter and logger may be nil.
func NewEnforcer(subs SubscriptionSource, catalog plans.Catalog, ledger usage.Ledger, counter ConnectedCounter, logger *observability.Logger) *Enforcer {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Enforcer{
		subs:    subs,
		catalog: catalog,
		ledger:  ledger,
		counter: counter,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Window returns the UTC calendar-month billing window containing t.
// The end bound is exclusive.
func Window(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// Check evaluates every limited metric for the tenant. A tenant without
// a current subscription gets a hard deny via billing.NotFoundError.
func (e *Enforcer) Check(ctx context.Context, tenantID string) (*Report, error) {
	sub, err := e.subs.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	plan, err := e.catalog.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	from, to := Window(e.nowFunc())
	report := &Report{
		TenantID:     tenantID,
		PlanID:       plan.ID,
		WindowStart:  from,
		WindowEnd:    to,
		WithinLimits: true,
		Current:      make(map[string]float64),
		Limits:       make(map[string]int64),
	}

	for _, metric := range plans.LimitedMetrics() {
		limit, ok := plan.Limits.For(metric)
		if !ok {
			continue
		}
		report.Limits[metric] = limit

		current, err := e.currentValue(ctx, tenantID, metric, from, to)
		if err != nil {
			return nil, err
		}
		report.Current[metric] = current

		if limit == plans.Unlimited {
			continue
		}
		if current > float64(limit) {
			report.WithinLimits = false
			report.Exceeded = append(report.Exceeded, metric)
		}
	}
	return report, nil
}

// CheckMetric evaluates one metric and returns *LimitExceededError when
// the tenant is over its ceiling.
func (e *Enforcer) CheckMetric(ctx context.Context, tenantID, metric string) error {
	sub, err := e.subs.GetByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	plan, err := e.catalog.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return err
	}

	limit, ok := plan.Limits.For(metric)
	if !ok || limit == plans.Unlimited {
		return nil
	}

	from, to := Window(e.nowFunc())
	current, err := e.currentValue(ctx, tenantID, metric, from, to)
	if err != nil {
		return err
	}
	if current > float64(limit) {
		return &LimitExceededError{TenantID: tenantID, Metric: metric, Current: current, Limit: limit}
	}
	return nil
}

// currentValue reads the windowed aggregate, merging the live connected
// count into the integrations gauge.
func (e *Enforcer) currentValue(ctx context.Context, tenantID, metric string, from, to time.Time) (float64, error) {
	current, err := e.ledger.Aggregate(ctx, tenantID, metric, from, to)
	if err != nil {
		return 0, err
	}

	if metric == plans.MetricIntegrationsUsed && e.counter != nil {
		live, err := e.counter.CountConnected(ctx, tenantID)
		if err != nil {
			e.logger.WithError(err).WithField("tenant_id", tenantID).
				Warn("failed to count connected integrations, using ledger value")
		} else if float64(live) > current {
			current = float64(live)
		}
	}
	return current, nil
}
