// Package audit records security-relevant events: integration lifecycle
// transitions, subscription changes, and plan administration. Entries are
// written by the system on behalf of the acting tenant and are retained
// for compliance review.
package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Integration lifecycle events. The suffix matches the integration
	// status being entered.
	EventTypeIntegrationPending   EventType = "integration.pending"
	EventTypeIntegrationConnected EventType = "integration.connected"
	EventTypeIntegrationFailed    EventType = "integration.failed"
	EventTypeIntegrationRevoked   EventType = "integration.revoked"

	// Billing events
	EventTypeSubscriptionCreated  EventType = "billing.subscription_created"
	EventTypeSubscriptionChanged  EventType = "billing.plan_changed"
	EventTypeSubscriptionCanceled EventType = "billing.subscription_canceled"
	EventTypeInvoicePaid          EventType = "billing.invoice_paid"
	EventTypePaymentFailed        EventType = "billing.payment_failed"

	// Administration events
	EventTypePlanCreated EventType = "admin.plan_created"

	// Enforcement events
	EventTypeLimitDenied EventType = "limits.denied"
)

// IntegrationEventType returns the audit event type for an integration
// status value ("pending", "connected", "failed", "revoked").
func IntegrationEventType(status string) EventType {
	return EventType("integration." + status)
}

// Actor identifies who performed the audited action.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorTenant Actor = "tenant"
	ActorAdmin  Actor = "admin"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Actor     Actor     `json:"actor"`

	TenantID string `json:"tenant_id,omitempty"`

	// Resource information
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
