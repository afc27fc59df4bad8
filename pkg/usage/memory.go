package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/tollgate/pkg/plans"
)

// MemoryLedger is a thread-safe in-memory Ledger. It exists for tests and
// local development only; production storage must be durable (see
// PostgresLedger).
type MemoryLedger struct {
	mu      sync.RWMutex
	records []Record

	// FailWrites makes Record return a TrackingError, for testing the
	// best-effort contract.
	FailWrites error
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Record appends a usage event in memory.
func (l *MemoryLedger) Record(_ context.Context, tenantID, metric string, value float64, at time.Time) error {
	if _, ok := plans.Metrics[metric]; !ok {
		return &TrackingError{TenantID: tenantID, Metric: metric, Err: &UnknownMetricError{Metric: metric}}
	}
	if l.FailWrites != nil {
		return &TrackingError{TenantID: tenantID, Metric: metric, Err: l.FailWrites}
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, Record{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Metric:     metric,
		Value:      value,
		RecordedAt: at.UTC(),
		Period:     PeriodKey(at),
	})
	return nil
}

// Aggregate returns the windowed sum or max per the metric registry.
func (l *MemoryLedger) Aggregate(_ context.Context, tenantID, metric string, from, to time.Time) (float64, error) {
	agg, ok := plans.AggregationFor(metric)
	if !ok {
		return 0, &UnknownMetricError{Metric: metric}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum, max float64
	for _, r := range l.records {
		if r.TenantID != tenantID || r.Metric != metric {
			continue
		}
		if r.RecordedAt.Before(from) || !r.RecordedAt.Before(to) {
			continue
		}
		sum += r.Value
		if r.Value > max {
			max = r.Value
		}
	}

	if agg == plans.AggregationGauge {
		return max, nil
	}
	return sum, nil
}

// Breakdown returns windowed aggregates for all metrics with records.
func (l *MemoryLedger) Breakdown(ctx context.Context, tenantID string, from, to time.Time) (map[string]float64, error) {
	l.mu.RLock()
	metrics := make(map[string]bool)
	for _, r := range l.records {
		if r.TenantID != tenantID || r.RecordedAt.Before(from) || !r.RecordedAt.Before(to) {
			continue
		}
		metrics[r.Metric] = true
	}
	l.mu.RUnlock()

	out := make(map[string]float64)
	for metric := range metrics {
		v, err := l.Aggregate(ctx, tenantID, metric, from, to)
		if err != nil {
			return nil, err
		}
		out[metric] = v
	}
	return out, nil
}

// Len returns the number of recorded events.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
