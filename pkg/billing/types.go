package billing

import (
	"fmt"
	"time"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled
}

// Subscription represents a tenant's billing subscription. At most one
// non-canceled subscription exists per tenant; canceled rows are retained
// for history and never deleted.
type Subscription struct {
	ID                      string             `json:"id"`
	TenantID                string             `json:"tenant_id"`
	PlanID                  string             `json:"plan_id"`
	Status                  SubscriptionStatus `json:"status"`
	BillingEmail            string             `json:"billing_email,omitempty"`
	ProcessorCustomerID     string             `json:"processor_customer_id,omitempty"`
	ProcessorSubscriptionID string             `json:"processor_subscription_id,omitempty"`
	CurrentPeriodStart      time.Time          `json:"current_period_start"`
	CurrentPeriodEnd        time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd       bool               `json:"cancel_at_period_end"`
	TrialEnd                *time.Time         `json:"trial_end,omitempty"`
	CanceledAt              *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

// Local reports whether the subscription has no processor record (free
// tiers are billed nowhere and managed entirely locally).
func (s *Subscription) Local() bool {
	return s.ProcessorSubscriptionID == ""
}

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

// InvoiceItemType classifies an invoice line item.
type InvoiceItemType string

const (
	InvoiceItemTypeSubscription InvoiceItemType = "subscription"
	InvoiceItemTypeUsage        InvoiceItemType = "usage"
	InvoiceItemTypeOneTime      InvoiceItemType = "one_time"
)

// InvoiceItem is a single invoice line.
type InvoiceItem struct {
	ID             string          `json:"id"`
	InvoiceID      string          `json:"invoice_id"`
	Description    string          `json:"description"`
	Quantity       int64           `json:"quantity"`
	UnitPriceCents int64           `json:"unit_price_cents"`
	AmountCents    int64           `json:"amount_cents"`
	Type           InvoiceItemType `json:"type"`
}

// Invoice represents a billing invoice. Amounts are minor units.
type Invoice struct {
	ID                 string        `json:"id"`
	TenantID           string        `json:"tenant_id"`
	SubscriptionID     string        `json:"subscription_id"`
	ProcessorInvoiceID string        `json:"processor_invoice_id,omitempty"`
	AmountCents        int64         `json:"amount_cents"`
	Currency           string        `json:"currency"`
	Status             InvoiceStatus `json:"status"`
	DueDate            *time.Time    `json:"due_date,omitempty"`
	PaidAt             *time.Time    `json:"paid_at,omitempty"`
	Items              []InvoiceItem `json:"items,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// NotFoundError is returned when a subscription or invoice is absent.
type NotFoundError struct {
	Kind string // "subscription" or "invoice"
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

// IsNotFound checks if an error is a billing not-found error
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// InvalidStateError is returned when an operation is not legal in the
// subscription's current state (e.g. changing the plan of a canceled
// subscription).
type InvalidStateError struct {
	SubscriptionID string
	Status         SubscriptionStatus
	Operation      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s subscription %s in status %q", e.Operation, e.SubscriptionID, e.Status)
}

// IsInvalidState checks if an error is an invalid-state error
func IsInvalidState(err error) bool {
	_, ok := err.(*InvalidStateError)
	return ok
}

// GatewayError wraps any failure from the payment processor adapter.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("billing gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError checks if an error came from the billing gateway
func IsGatewayError(err error) bool {
	_, ok := err.(*GatewayError)
	return ok
}

// SignatureError indicates a webhook payload failed signature
// verification. The webhook endpoint must reject these with a non-2xx
// status; every other processing failure is acknowledged to avoid retry
// storms.
type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("webhook signature verification failed: %v", e.Err)
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}

// IsSignatureError checks if an error is a webhook signature failure
func IsSignatureError(err error) bool {
	_, ok := err.(*SignatureError)
	return ok
}
