package usage

import (
	"context"
	"fmt"
	"time"
)

// Record is a single immutable usage event.
type Record struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
	Period     string    `json:"period"` // month bucket, e.g. "2026-08"
}

// Ledger is the usage ledger contract consumed by the limit enforcer and
// the usage API.
type Ledger interface {
	// Record appends a usage event. Failures are returned as
	// *TrackingError and must not fail the action that produced the event.
	Record(ctx context.Context, tenantID, metric string, value float64, at time.Time) error

	// Aggregate returns the windowed aggregate for one metric using the
	// metric's registered semantic (sum or max).
	Aggregate(ctx context.Context, tenantID, metric string, from, to time.Time) (float64, error)

	// Breakdown returns the windowed aggregate for every metric that has
	// at least one record in the window.
	Breakdown(ctx context.Context, tenantID string, from, to time.Time) (map[string]float64, error)
}

// PeriodKey returns the month bucket tag for a timestamp, in UTC.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// TrackingError wraps a ledger write failure. It signals "log and carry
// on" to callers on the request path.
type TrackingError struct {
	TenantID string
	Metric   string
	Err      error
}

func (e *TrackingError) Error() string {
	return fmt.Sprintf("usage tracking failed for tenant %s metric %s: %v", e.TenantID, e.Metric, e.Err)
}

func (e *TrackingError) Unwrap() error {
	return e.Err
}

// IsTrackingError checks if an error is a usage tracking error
func IsTrackingError(err error) bool {
	_, ok := err.(*TrackingError)
	return ok
}

// UnknownMetricError is returned when a metric name is not declared in the
// plans metric registry.
type UnknownMetricError struct {
	Metric string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("metric %q is not registered", e.Metric)
}
