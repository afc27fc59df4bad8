package integrations

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of an integration
type Status string

const (
	StatusPending   Status = "pending"
	StatusConnected Status = "connected"
	StatusFailed    Status = "failed"
	StatusRevoked   Status = "revoked"
)

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConnected, StatusFailed, StatusRevoked:
		return true
	}
	return false
}

// Integration represents a tenant's connection to an external provider
type Integration struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	Provider        string            `json:"provider"`
	Status          Status            `json:"status"`
	ConnectedAt     *time.Time        `json:"connected_at,omitempty"`
	Configuration   map[string]string `json:"configuration,omitempty"`
	FeaturesEnabled []string          `json:"features_enabled,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Registry is the integration registry contract.
type Registry interface {
	// Upsert creates or updates the (tenant, provider) record. Status
	// changes append an audit entry.
	Upsert(ctx context.Context, tenantID, provider string, status Status, configuration map[string]string) (*Integration, error)

	// Get returns the record for (tenant, provider).
	Get(ctx context.Context, tenantID, provider string) (*Integration, error)

	// List returns all of the tenant's integrations.
	List(ctx context.Context, tenantID string) ([]*Integration, error)

	// CountConnected returns how many integrations are currently in the
	// connected state. Feeds the integrations_used gauge metric.
	CountConnected(ctx context.Context, tenantID string) (int64, error)
}

// Connector is the boundary to the external data-source layer (the
// OAuth/sync subsystem). The registry only ever asks it for a source id
// to store as a configuration reference; schema discovery and sync belong
// to that subsystem.
type Connector interface {
	CreateSource(ctx context.Context, provider string, credentials, config map[string]string) (sourceID string, err error)
}

// providerFeatures maps a provider to the features its connection enables.
var providerFeatures = map[string][]string{
	"shopify":          {"orders", "products", "customers"},
	"stripe":           {"payments", "payouts", "customers"},
	"salesforce":       {"leads", "opportunities", "accounts"},
	"quickbooks":       {"invoices", "expenses", "reports"},
	"google-analytics": {"traffic", "conversions"},
	"hubspot":          {"contacts", "deals", "campaigns"},
}

// FeaturesFor returns the features enabled by connecting a provider.
func FeaturesFor(provider string) []string {
	return providerFeatures[provider]
}

// RedactedValue is the fixed mask stored in place of secret values.
const RedactedValue = "[REDACTED]"

var sensitiveKeyFragments = []string{
	"secret", "token", "password", "api_key", "apikey",
	"credential", "private_key", "client_secret", "refresh",
}

// RedactConfiguration returns a copy of cfg with values under
// known-sensitive keys replaced by the fixed mask. The input map is not
// modified.
func RedactConfiguration(cfg map[string]string) map[string]string {
	if cfg == nil {
		return nil
	}
	out := make(map[string]string, len(cfg))
	for k, v := range cfg {
		if isSensitiveKey(k) {
			out[k] = RedactedValue
		} else {
			out[k] = v
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// NotFoundError is returned when no integration exists for the pair.
type NotFoundError struct {
	TenantID string
	Provider string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("integration %s/%s not found", e.TenantID, e.Provider)
}

// IsNotFound checks if an error is an integration not-found error
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}
