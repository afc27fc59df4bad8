package billing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CustomerRef identifies a customer at the payment processor.
type CustomerRef struct {
	ID    string
	Email string
}

// SubscriptionRef is the normalized shape of a processor subscription.
// Period fields are UTC; the adapter converts processor timestamps and
// money exactly once at this boundary.
type SubscriptionRef struct {
	ID                 string
	CustomerID         string
	PlanID             string
	Status             SubscriptionStatus
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	TrialEnd           *time.Time
}

// EventKind tags the webhook event union.
type EventKind string

const (
	EventPaymentSucceeded    EventKind = "payment_succeeded"
	EventPaymentFailed       EventKind = "payment_failed"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventUnknown             EventKind = "unknown"
)

// PaymentEvent carries the payment fields the coordinator needs.
type PaymentEvent struct {
	ProcessorInvoiceID      string
	ProcessorCustomerID     string
	ProcessorSubscriptionID string
	AmountCents             int64
	Currency                string
	AttemptCount            int
	PaidAt                  time.Time
}

// Event is the tagged union of webhook events crossing the gateway
// boundary. Exactly one of Payment/Subscription is set for known kinds;
// unknown kinds carry only ID and RawType and are logged and acknowledged,
// never treated as errors.
type Event struct {
	ID           string
	Kind         EventKind
	RawType      string
	Payment      *PaymentEvent
	Subscription *SubscriptionRef
}

// Gateway is the thin adapter over the external payment processor. It
// owns no business state; implementations normalize processor shapes into
// the types above.
type Gateway interface {
	// FindOrCreateCustomer resolves a processor customer by email +
	// tenant metadata, creating one only if absent (idempotent).
	FindOrCreateCustomer(ctx context.Context, email string, metadata map[string]string) (*CustomerRef, error)

	// CreateSubscription starts a processor subscription on the plan's
	// price with a trial period. The idempotency key makes retries safe.
	CreateSubscription(ctx context.Context, customerID, planID string, trialDays int, idempotencyKey string) (*SubscriptionRef, error)

	// UpdateSubscriptionPlan moves the subscription to a new plan's
	// price, requesting proration.
	UpdateSubscriptionPlan(ctx context.Context, subscriptionID, newPlanID string) (*SubscriptionRef, error)

	// CancelSubscription cancels at period end or immediately.
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*SubscriptionRef, error)

	// CreateInvoiceItem appends a pending line item to the customer's
	// next invoice. Amount is minor units.
	CreateInvoiceItem(ctx context.Context, customerID, description string, amountCents int64, currency string) error

	// ParseWebhookEvent verifies the payload signature and decodes the
	// event. A *SignatureError means the payload must be rejected.
	ParseWebhookEvent(payload []byte, signatureHeader string) (*Event, error)
}

// MockGateway is a test double recording calls and returning
// configurable results.
type MockGateway struct {
	mu sync.Mutex

	// Customers maps email -> customer id.
	Customers map[string]string
	// Subscriptions maps subscription id -> plan id.
	Subscriptions map[string]string
	// InvoiceItems collects created line items.
	InvoiceItems []string
	// IdempotencyKeys collects the keys passed to CreateSubscription.
	IdempotencyKeys []string

	// CancelCalls counts CancelSubscription invocations.
	CancelCalls int
	// CreateCalls counts CreateSubscription invocations.
	CreateCalls int

	// TrialDays echoes the most recent trial period requested.
	TrialDays int

	// Error fields inject failures.
	FindOrCreateCustomerErr error
	CreateSubscriptionErr   error
	UpdateSubscriptionErr   error
	CancelSubscriptionErr   error
	CreateInvoiceItemErr    error
	ParseWebhookErr         error

	// ParsedEvent is returned by ParseWebhookEvent when set.
	ParsedEvent *Event

	nextCustomerSeq int
	nextSubSeq      int
}

// NewMockGateway creates a MockGateway ready for use.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Customers:     make(map[string]string),
		Subscriptions: make(map[string]string),
	}
}

func (m *MockGateway) FindOrCreateCustomer(_ context.Context, email string, _ map[string]string) (*CustomerRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindOrCreateCustomerErr != nil {
		return nil, &GatewayError{Op: "find_or_create_customer", Err: m.FindOrCreateCustomerErr}
	}
	if id, ok := m.Customers[email]; ok {
		return &CustomerRef{ID: id, Email: email}, nil
	}
	m.nextCustomerSeq++
	id := fmt.Sprintf("cus_mock_%d", m.nextCustomerSeq)
	m.Customers[email] = id
	return &CustomerRef{ID: id, Email: email}, nil
}

func (m *MockGateway) CreateSubscription(_ context.Context, customerID, planID string, trialDays int, idempotencyKey string) (*SubscriptionRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.CreateSubscriptionErr != nil {
		return nil, &GatewayError{Op: "create_subscription", Err: m.CreateSubscriptionErr}
	}
	m.nextSubSeq++
	m.TrialDays = trialDays
	m.IdempotencyKeys = append(m.IdempotencyKeys, idempotencyKey)
	id := fmt.Sprintf("sub_mock_%d", m.nextSubSeq)
	m.Subscriptions[id] = planID

	now := time.Now().UTC()
	ref := &SubscriptionRef{
		ID:                 id,
		CustomerID:         customerID,
		PlanID:             planID,
		Status:             SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	if trialDays > 0 {
		trialEnd := now.AddDate(0, 0, trialDays)
		ref.Status = SubscriptionStatusTrialing
		ref.TrialEnd = &trialEnd
	}
	return ref, nil
}

func (m *MockGateway) UpdateSubscriptionPlan(_ context.Context, subscriptionID, newPlanID string) (*SubscriptionRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateSubscriptionErr != nil {
		return nil, &GatewayError{Op: "update_subscription", Err: m.UpdateSubscriptionErr}
	}
	if _, ok := m.Subscriptions[subscriptionID]; !ok {
		return nil, &GatewayError{Op: "update_subscription", Err: fmt.Errorf("unknown subscription %s", subscriptionID)}
	}
	m.Subscriptions[subscriptionID] = newPlanID
	now := time.Now().UTC()
	return &SubscriptionRef{
		ID:                 subscriptionID,
		PlanID:             newPlanID,
		Status:             SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}, nil
}

func (m *MockGateway) CancelSubscription(_ context.Context, subscriptionID string, atPeriodEnd bool) (*SubscriptionRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls++
	if m.CancelSubscriptionErr != nil {
		return nil, &GatewayError{Op: "cancel_subscription", Err: m.CancelSubscriptionErr}
	}
	planID, ok := m.Subscriptions[subscriptionID]
	if !ok {
		return nil, &GatewayError{Op: "cancel_subscription", Err: fmt.Errorf("unknown subscription %s", subscriptionID)}
	}
	now := time.Now().UTC()
	ref := &SubscriptionRef{
		ID:                 subscriptionID,
		PlanID:             planID,
		CurrentPeriodStart: now.AddDate(0, -1, 0),
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	if atPeriodEnd {
		ref.Status = SubscriptionStatusActive
		ref.CancelAtPeriodEnd = true
	} else {
		ref.Status = SubscriptionStatusCanceled
		delete(m.Subscriptions, subscriptionID)
	}
	return ref, nil
}

func (m *MockGateway) CreateInvoiceItem(_ context.Context, customerID, description string, amountCents int64, currency string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateInvoiceItemErr != nil {
		return &GatewayError{Op: "create_invoice_item", Err: m.CreateInvoiceItemErr}
	}
	m.InvoiceItems = append(m.InvoiceItems, fmt.Sprintf("%s:%s:%d:%s", customerID, description, amountCents, currency))
	return nil
}

func (m *MockGateway) ParseWebhookEvent(_ []byte, _ string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ParseWebhookErr != nil {
		return nil, m.ParseWebhookErr
	}
	if m.ParsedEvent != nil {
		return m.ParsedEvent, nil
	}
	return &Event{Kind: EventUnknown}, nil
}
