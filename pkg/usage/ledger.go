package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/tollgate/pkg/plans"
)

// PostgresLedger implements Ledger backed by the usage_records table.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a PostgresLedger.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Record appends a usage event. The table is append-only; no update or
// delete path exists here.
func (l *PostgresLedger) Record(ctx context.Context, tenantID, metric string, value float64, at time.Time) error {
	if _, ok := plans.Metrics[metric]; !ok {
		return &TrackingError{TenantID: tenantID, Metric: metric, Err: &UnknownMetricError{Metric: metric}}
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	query := `
		INSERT INTO usage_records (id, tenant_id, metric, value, recorded_at, period)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := l.db.ExecContext(ctx, query,
		uuid.NewString(), tenantID, metric, value, at.UTC(), PeriodKey(at))
	if err != nil {
		return &TrackingError{TenantID: tenantID, Metric: metric, Err: err}
	}
	return nil
}

// Aggregate returns the sum or max of the metric over [from, to) per the
// metric registry.
func (l *PostgresLedger) Aggregate(ctx context.Context, tenantID, metric string, from, to time.Time) (float64, error) {
	agg, ok := plans.AggregationFor(metric)
	if !ok {
		return 0, &UnknownMetricError{Metric: metric}
	}

	query := `
		SELECT COALESCE(SUM(value), 0), COALESCE(MAX(value), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND metric = $2 AND recorded_at >= $3 AND recorded_at < $4
	`
	var sum, max float64
	err := l.db.QueryRowContext(ctx, query, tenantID, metric, from.UTC(), to.UTC()).Scan(&sum, &max)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate usage: %w", err)
	}

	if agg == plans.AggregationGauge {
		return max, nil
	}
	return sum, nil
}

// Breakdown returns per-metric aggregates over [from, to). Metrics without
// records in the window are absent from the result.
func (l *PostgresLedger) Breakdown(ctx context.Context, tenantID string, from, to time.Time) (map[string]float64, error) {
	query := `
		SELECT metric, COALESCE(SUM(value), 0), COALESCE(MAX(value), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		GROUP BY metric
	`
	rows, err := l.db.QueryContext(ctx, query, tenantID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var metric string
		var sum, max float64
		if err := rows.Scan(&metric, &sum, &max); err != nil {
			return nil, fmt.Errorf("failed to scan usage aggregate: %w", err)
		}
		agg, ok := plans.AggregationFor(metric)
		if !ok {
			// Records for retired metrics stay in the table; skip them.
			continue
		}
		if agg == plans.AggregationGauge {
			out[metric] = max
		} else {
			out[metric] = sum
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return out, nil
}
