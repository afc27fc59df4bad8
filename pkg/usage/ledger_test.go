package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/tollgate/pkg/plans"
)

var (
	periodStart = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
)

func recordAll(t *testing.T, l Ledger, tenantID, metric string, values []float64) {
	t.Helper()
	at := periodStart
	for _, v := range values {
		require.NoError(t, l.Record(context.Background(), tenantID, metric, v, at))
		at = at.Add(time.Hour)
	}
}

func TestMemoryLedgerCumulativeSums(t *testing.T) {
	l := NewMemoryLedger()
	recordAll(t, l, "t1", plans.MetricAPICalls, []float64{3, 7, 5})

	got, err := l.Aggregate(context.Background(), "t1", plans.MetricAPICalls, periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, 15.0, got)
}

func TestMemoryLedgerGaugeTakesMax(t *testing.T) {
	l := NewMemoryLedger()
	recordAll(t, l, "t1", plans.MetricStorageGB, []float64{3, 7, 5})

	got, err := l.Aggregate(context.Background(), "t1", plans.MetricStorageGB, periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)
}

func TestMemoryLedgerWindowExcludesOutsideRecords(t *testing.T) {
	l := NewMemoryLedger()
	require.NoError(t, l.Record(context.Background(), "t1", plans.MetricAPICalls, 100, periodStart.Add(-time.Hour)))
	require.NoError(t, l.Record(context.Background(), "t1", plans.MetricAPICalls, 1, periodStart))
	require.NoError(t, l.Record(context.Background(), "t1", plans.MetricAPICalls, 100, periodEnd))

	got, err := l.Aggregate(context.Background(), "t1", plans.MetricAPICalls, periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestMemoryLedgerIsolatesTenants(t *testing.T) {
	l := NewMemoryLedger()
	recordAll(t, l, "t1", plans.MetricAPICalls, []float64{5})
	recordAll(t, l, "t2", plans.MetricAPICalls, []float64{9})

	got, err := l.Aggregate(context.Background(), "t1", plans.MetricAPICalls, periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got)
}

func TestMemoryLedgerUnknownMetric(t *testing.T) {
	l := NewMemoryLedger()

	err := l.Record(context.Background(), "t1", "bytes_teleported", 1, periodStart)
	require.Error(t, err)
	assert.True(t, IsTrackingError(err))

	_, err = l.Aggregate(context.Background(), "t1", "bytes_teleported", periodStart, periodEnd)
	var unknown *UnknownMetricError
	assert.True(t, errors.As(err, &unknown))
}

func TestMemoryLedgerWriteFailureIsTrackingError(t *testing.T) {
	l := NewMemoryLedger()
	l.FailWrites = errors.New("disk full")

	err := l.Record(context.Background(), "t1", plans.MetricAPICalls, 1, periodStart)
	require.Error(t, err)
	assert.True(t, IsTrackingError(err))
	assert.Equal(t, 0, l.Len())
}

func TestMemoryLedgerBreakdown(t *testing.T) {
	l := NewMemoryLedger()
	recordAll(t, l, "t1", plans.MetricAPICalls, []float64{3, 7, 5})
	recordAll(t, l, "t1", plans.MetricStorageGB, []float64{3, 7, 5})

	got, err := l.Breakdown(context.Background(), "t1", periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		plans.MetricAPICalls:  15,
		plans.MetricStorageGB: 7,
	}, got)
}

func TestPostgresLedgerRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)

	mock.ExpectExec("INSERT INTO usage_records").
		WithArgs(sqlmock.AnyArg(), "t1", plans.MetricAPICalls, 3.0, sqlmock.AnyArg(), "2026-08").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = l.Record(context.Background(), "t1", plans.MetricAPICalls, 3, periodStart)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerRecordFailureWrapsTrackingError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)

	mock.ExpectExec("INSERT INTO usage_records").
		WillReturnError(errors.New("connection reset"))

	err = l.Record(context.Background(), "t1", plans.MetricAPICalls, 3, periodStart)
	require.Error(t, err)
	assert.True(t, IsTrackingError(err))
}

func TestPostgresLedgerAggregatePicksSemanticFromRegistry(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)

	// Cumulative metric uses the SUM column.
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("t1", plans.MetricAPICalls, periodStart, periodEnd).
		WillReturnRows(sqlmock.NewRows([]string{"sum", "max"}).AddRow(15.0, 7.0))

	got, err := l.Aggregate(context.Background(), "t1", plans.MetricAPICalls, periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, 15.0, got)

	// Gauge metric uses the MAX column.
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("t1", plans.MetricStorageGB, periodStart, periodEnd).
		WillReturnRows(sqlmock.NewRows([]string{"sum", "max"}).AddRow(15.0, 7.0))

	got, err = l.Aggregate(context.Background(), "t1", plans.MetricStorageGB, periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerBreakdown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)

	rows := sqlmock.NewRows([]string{"metric", "sum", "max"}).
		AddRow(plans.MetricAPICalls, 15.0, 7.0).
		AddRow(plans.MetricActiveUsers, 12.0, 4.0).
		AddRow("retired_metric", 99.0, 99.0)
	mock.ExpectQuery("SELECT metric, COALESCE").
		WithArgs("t1", periodStart, periodEnd).
		WillReturnRows(rows)

	got, err := l.Breakdown(context.Background(), "t1", periodStart, periodEnd)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		plans.MetricAPICalls:    15,
		plans.MetricActiveUsers: 4,
	}, got)
}

func TestPeriodKey(t *testing.T) {
	assert.Equal(t, "2026-08", PeriodKey(time.Date(2026, 8, 25, 23, 59, 0, 0, time.UTC)))
	// Local times bucket by their UTC month.
	loc := time.FixedZone("UTC+10", 10*3600)
	assert.Equal(t, "2026-07", PeriodKey(time.Date(2026, 8, 1, 4, 0, 0, 0, loc)))
}
