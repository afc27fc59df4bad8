package billing

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/tollgate/pkg/observability"
)

func TestInstrumentedGatewayCountsCalls(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	gateway := NewInstrumentedGateway(NewMockGateway(), metrics)

	_, err := gateway.FindOrCreateCustomer(context.Background(), "owner@t1.example", nil)
	require.NoError(t, err)
	_, err = gateway.CreateSubscription(context.Background(), "cus_mock_1", "starter", 14, "key-1")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GatewayCallsTotal.WithLabelValues("find_or_create_customer", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GatewayCallsTotal.WithLabelValues("create_subscription", "ok")))
	// one duration series per operation called
	assert.Equal(t, 2, testutil.CollectAndCount(metrics.GatewayCallDuration))
}

func TestInstrumentedGatewayCountsFailures(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	mock := NewMockGateway()
	mock.CancelSubscriptionErr = assert.AnError
	gateway := NewInstrumentedGateway(mock, metrics)

	_, err := gateway.CancelSubscription(context.Background(), "sub_mock_1", false)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GatewayCallsTotal.WithLabelValues("cancel_subscription", "error")))
}

func TestInstrumentedGatewayWebhookParsingUnmeasured(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	mock := NewMockGateway()
	mock.ParsedEvent = &Event{ID: "evt_1", Kind: EventSubscriptionDeleted}
	gateway := NewInstrumentedGateway(mock, metrics)

	event, err := gateway.ParseWebhookEvent([]byte("{}"), "sig")
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, 0, testutil.CollectAndCount(metrics.GatewayCallsTotal))
}
