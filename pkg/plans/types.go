package plans

import (
	"fmt"
	"time"
)

// Unlimited is the sentinel limit value meaning "no cap".
const Unlimited int64 = -1

// Interval represents a billing interval
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Metric names understood by the metric registry.
const (
	MetricAPICalls          = "api_calls"
	MetricWorkflowsExecuted = "workflows_executed"
	MetricStorageGB         = "storage_gb"
	MetricActiveUsers       = "active_users"
	MetricIntegrationsUsed  = "integrations_used"
	MetricCustomDomains     = "custom_domains"
)

// Aggregation describes how usage values for a metric combine over a
// billing window.
type Aggregation string

const (
	// AggregationCumulative sums all recorded values in the window.
	AggregationCumulative Aggregation = "cumulative"
	// AggregationGauge takes the maximum recorded value in the window.
	AggregationGauge Aggregation = "gauge"
)

// MetricSpec declares a metered metric and its aggregation semantic.
type MetricSpec struct {
	Name        string      `json:"name"`
	Aggregation Aggregation `json:"aggregation"`
	Description string      `json:"description,omitempty"`
}

// Metrics is the central metric registry. Aggregation semantics are
// declared here and nowhere else.
var Metrics = map[string]MetricSpec{
	MetricAPICalls:          {Name: MetricAPICalls, Aggregation: AggregationCumulative, Description: "API calls made during the billing period"},
	MetricWorkflowsExecuted: {Name: MetricWorkflowsExecuted, Aggregation: AggregationCumulative, Description: "workflow executions during the billing period"},
	MetricStorageGB:         {Name: MetricStorageGB, Aggregation: AggregationGauge, Description: "peak storage footprint in GB"},
	MetricActiveUsers:       {Name: MetricActiveUsers, Aggregation: AggregationGauge, Description: "peak concurrent active users"},
	MetricIntegrationsUsed:  {Name: MetricIntegrationsUsed, Aggregation: AggregationGauge, Description: "peak connected integrations"},
	MetricCustomDomains:     {Name: MetricCustomDomains, Aggregation: AggregationGauge, Description: "peak configured custom domains"},
}

// AggregationFor returns the aggregation semantic for a metric name.
func AggregationFor(metric string) (Aggregation, bool) {
	spec, ok := Metrics[metric]
	if !ok {
		return "", false
	}
	return spec.Aggregation, true
}

// Limits holds the per-plan resource ceilings. -1 means unlimited.
type Limits struct {
	Users             int64 `json:"users"`
	StorageGB         int64 `json:"storage_gb"`
	APICallsPerPeriod int64 `json:"api_calls_per_period"`
	Integrations      int64 `json:"integrations"`
	CustomDomains     int64 `json:"custom_domains"`
}

// For returns the limit that applies to a metric name. The second return
// is false for metrics with no plan ceiling (e.g. workflows_executed).
func (l Limits) For(metric string) (int64, bool) {
	switch metric {
	case MetricActiveUsers:
		return l.Users, true
	case MetricStorageGB:
		return l.StorageGB, true
	case MetricAPICalls:
		return l.APICallsPerPeriod, true
	case MetricIntegrationsUsed:
		return l.Integrations, true
	case MetricCustomDomains:
		return l.CustomDomains, true
	}
	return 0, false
}

// LimitedMetrics lists the metric names a plan puts a ceiling on, in a
// stable order.
func LimitedMetrics() []string {
	return []string{
		MetricActiveUsers,
		MetricStorageGB,
		MetricAPICalls,
		MetricIntegrationsUsed,
		MetricCustomDomains,
	}
}

// Plan represents a billing plan tier
type Plan struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Currency   string    `json:"currency"`
	Interval   Interval  `json:"interval"`
	Limits     Limits    `json:"limits"`
	Features   []string  `json:"features,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// IsFree reports whether the plan is a no-payment tier.
func (p *Plan) IsFree() bool {
	return p.PriceCents == 0
}

// Validate checks plan invariants before the plan is admitted to a catalog.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("plan id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("plan name is required")
	}
	if p.PriceCents < 0 {
		return fmt.Errorf("plan price must not be negative")
	}
	if p.Currency == "" {
		return fmt.Errorf("plan currency is required")
	}
	if p.Interval != IntervalMonthly && p.Interval != IntervalYearly {
		return fmt.Errorf("plan interval must be monthly or yearly, got %q", p.Interval)
	}
	for _, limit := range []int64{p.Limits.Users, p.Limits.StorageGB, p.Limits.APICallsPerPeriod, p.Limits.Integrations, p.Limits.CustomDomains} {
		if limit < Unlimited {
			return fmt.Errorf("plan limits must be non-negative or -1 for unlimited")
		}
	}
	return nil
}

// NotFoundError is returned when a plan id does not exist in the catalog.
type NotFoundError struct {
	PlanID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plan %q not found", e.PlanID)
}

// IsNotFound checks if an error is a plan not-found error
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
