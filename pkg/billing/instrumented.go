package billing

import (
	"context"
	"time"

	"github.com/forgeworks/tollgate/pkg/observability"
)

// InstrumentedGateway wraps a Gateway with per-operation call counters
// and latency histograms. ParseWebhookEvent is local signature
// verification, not a processor round trip, so it passes through
// unmeasured.
type InstrumentedGateway struct {
	inner   Gateway
	metrics *observability.Metrics
}

// NewInstrumentedGateway wraps inner with the gateway metrics.
func NewInstrumentedGateway(inner Gateway, metrics *observability.Metrics) *InstrumentedGateway {
	return &InstrumentedGateway{inner: inner, metrics: metrics}
}

func (g *InstrumentedGateway) observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	g.metrics.GatewayCallsTotal.WithLabelValues(operation, status).Inc()
	g.metrics.GatewayCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (g *InstrumentedGateway) FindOrCreateCustomer(ctx context.Context, email string, metadata map[string]string) (*CustomerRef, error) {
	start := time.Now()
	ref, err := g.inner.FindOrCreateCustomer(ctx, email, metadata)
	g.observe("find_or_create_customer", start, err)
	return ref, err
}

func (g *InstrumentedGateway) CreateSubscription(ctx context.Context, customerID, planID string, trialDays int, idempotencyKey string) (*SubscriptionRef, error) {
	start := time.Now()
	ref, err := g.inner.CreateSubscription(ctx, customerID, planID, trialDays, idempotencyKey)
	g.observe("create_subscription", start, err)
	return ref, err
}

func (g *InstrumentedGateway) UpdateSubscriptionPlan(ctx context.Context, subscriptionID, newPlanID string) (*SubscriptionRef, error) {
	start := time.Now()
	ref, err := g.inner.UpdateSubscriptionPlan(ctx, subscriptionID, newPlanID)
	g.observe("update_subscription", start, err)
	return ref, err
}

func (g *InstrumentedGateway) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*SubscriptionRef, error) {
	start := time.Now()
	ref, err := g.inner.CancelSubscription(ctx, subscriptionID, atPeriodEnd)
	g.observe("cancel_subscription", start, err)
	return ref, err
}

func (g *InstrumentedGateway) CreateInvoiceItem(ctx context.Context, customerID, description string, amountCents int64, currency string) error {
	start := time.Now()
	err := g.inner.CreateInvoiceItem(ctx, customerID, description, amountCents, currency)
	g.observe("create_invoice_item", start, err)
	return err
}

func (g *InstrumentedGateway) ParseWebhookEvent(payload []byte, signatureHeader string) (*Event, error) {
	return g.inner.ParseWebhookEvent(payload, signatureHeader)
}
