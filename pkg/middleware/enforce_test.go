package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/tollgate/pkg/billing"
	"github.com/forgeworks/tollgate/pkg/limits"
	"github.com/forgeworks/tollgate/pkg/observability"
	"github.com/forgeworks/tollgate/pkg/plans"
	"github.com/forgeworks/tollgate/pkg/usage"
)

type stubChecker struct {
	report *limits.Report
	err    error
}

func (s *stubChecker) Check(context.Context, string) (*limits.Report, error) {
	return s.report, s.err
}

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func tenantRequest(tenantID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/workflows", nil)
	if tenantID != "" {
		req.Header.Set(TenantHeader, tenantID)
	}
	return req
}

func TestTenantContext(t *testing.T) {
	var got string
	handler := TenantContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = TenantID(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), tenantRequest("t1"))
	assert.Equal(t, "t1", got)

	got = "unset"
	handler.ServeHTTP(httptest.NewRecorder(), tenantRequest(""))
	assert.Equal(t, "", got)
}

func TestRequireWithinLimitsAllows(t *testing.T) {
	next, called := okHandler()
	enforcement := NewEnforcement(&stubChecker{report: &limits.Report{WithinLimits: true}}, nil, nil)
	handler := TenantContext(enforcement.RequireWithinLimits(next))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, tenantRequest("t1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *called)
}

func TestRequireWithinLimitsDeniesWith402(t *testing.T) {
	next, called := okHandler()
	enforcement := NewEnforcement(&stubChecker{report: &limits.Report{
		PlanID:       "starter",
		WithinLimits: false,
		Exceeded:     []string{plans.MetricAPICalls},
		Current:      map[string]float64{plans.MetricAPICalls: 1050},
		Limits:       map[string]int64{plans.MetricAPICalls: 1000},
	}}, nil, nil)
	handler := TenantContext(enforcement.RequireWithinLimits(next))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, tenantRequest("t1"))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.False(t, *called)

	var body limitExceededResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{plans.MetricAPICalls}, body.Exceeded)
	assert.Equal(t, 1050.0, body.Current[plans.MetricAPICalls])
}

func TestRequireWithinLimitsNoSubscriptionDenied(t *testing.T) {
	next, called := okHandler()
	enforcement := NewEnforcement(&stubChecker{err: &billing.NotFoundError{Kind: "subscription", Ref: "t1"}}, nil, nil)
	handler := TenantContext(enforcement.RequireWithinLimits(next))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, tenantRequest("t1"))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.False(t, *called)
}

func TestRequireWithinLimitsSkipsWithoutTenant(t *testing.T) {
	next, called := okHandler()
	enforcement := NewEnforcement(&stubChecker{err: assert.AnError}, nil, nil)
	handler := TenantContext(enforcement.RequireWithinLimits(next))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, tenantRequest(""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *called)
}

func TestRequireWithinLimitsCountsDenials(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	next, _ := okHandler()
	enforcement := NewEnforcement(&stubChecker{report: &limits.Report{
		WithinLimits: false,
		Exceeded:     []string{plans.MetricAPICalls, plans.MetricStorageGB},
	}}, nil, metrics)
	handler := TenantContext(enforcement.RequireWithinLimits(next))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, tenantRequest("t1"))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LimitDenialsTotal.WithLabelValues(plans.MetricAPICalls)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LimitDenialsTotal.WithLabelValues(plans.MetricStorageGB)))
}

func TestRequireWithinLimitsSkipsNonBillableRequests(t *testing.T) {
	overLimit := &stubChecker{report: &limits.Report{WithinLimits: false, Exceeded: []string{plans.MetricAPICalls}}}

	cases := []struct {
		name   string
		method string
		path   string
	}{
		{"reads pass", http.MethodGet, "/workflows"},
		{"deletes release capacity", http.MethodDelete, "/tenants/t1/integrations/github"},
		{"subscription management stays reachable", http.MethodPost, "/tenants/t1/subscription/change-plan"},
		{"usage recording is append-only", http.MethodPost, "/tenants/t1/usage"},
		{"charge recording is append-only", http.MethodPost, "/tenants/t1/charges"},
		{"processor webhook", http.MethodPost, "/billing/webhook"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, called := okHandler()
			enforcement := NewEnforcement(overLimit, nil, nil)
			handler := TenantContext(enforcement.RequireWithinLimits(next))

			req := httptest.NewRequest(tc.method, tc.path, nil)
			req.Header.Set(TenantHeader, "t1")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, *called)
		})
	}
}

func TestRequireWithinLimitsInfraErrorAllows(t *testing.T) {
	next, called := okHandler()
	enforcement := NewEnforcement(&stubChecker{err: assert.AnError}, nil, nil)
	handler := TenantContext(enforcement.RequireWithinLimits(next))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, tenantRequest("t1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *called)
}

// waitLedger wraps the memory ledger so the test can wait for the
// fire-and-forget write.
type waitLedger struct {
	*usage.MemoryLedger
	wg sync.WaitGroup
}

func (l *waitLedger) Record(ctx context.Context, tenantID, metric string, value float64, at time.Time) error {
	defer l.wg.Done()
	return l.MemoryLedger.Record(ctx, tenantID, metric, value, at)
}

func TestTrackAPICallsRecordsUsage(t *testing.T) {
	ledger := &waitLedger{MemoryLedger: usage.NewMemoryLedger()}
	ledger.wg.Add(1)
	tracker := NewTracker(ledger, nil)

	next, _ := okHandler()
	handler := TenantContext(tracker.TrackAPICalls(next))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, tenantRequest("t1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	ledger.wg.Wait()
	now := time.Now().UTC()
	got, err := ledger.Aggregate(context.Background(), "t1", plans.MetricAPICalls, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestTrackAPICallsLedgerFailureDoesNotBlock(t *testing.T) {
	ledger := &waitLedger{MemoryLedger: usage.NewMemoryLedger()}
	ledger.FailWrites = assert.AnError
	ledger.wg.Add(1)
	tracker := NewTracker(ledger, nil)

	next, called := okHandler()
	handler := TenantContext(tracker.TrackAPICalls(next))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, tenantRequest("t1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, *called)
	ledger.wg.Wait()
}

func TestTrackAPICallsSkipsWithoutTenant(t *testing.T) {
	ledger := usage.NewMemoryLedger()
	tracker := NewTracker(ledger, nil)

	next, _ := okHandler()
	handler := TenantContext(tracker.TrackAPICalls(next))
	handler.ServeHTTP(httptest.NewRecorder(), tenantRequest(""))

	now := time.Now().UTC()
	got, err := ledger.Aggregate(context.Background(), "t1", plans.MetricAPICalls, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}
