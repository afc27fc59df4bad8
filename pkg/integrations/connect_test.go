package integrations

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeworks/tollgate/pkg/plans"
	"github.com/forgeworks/tollgate/pkg/usage"
)

// memRegistry is an in-memory Registry for connect-flow tests.
type memRegistry struct {
	mu      sync.Mutex
	records map[string]*Integration // key tenant/provider
}

func newMemRegistry() *memRegistry {
	return &memRegistry{records: make(map[string]*Integration)}
}

func (r *memRegistry) key(tenantID, provider string) string { return tenantID + "/" + provider }

func (r *memRegistry) Upsert(_ context.Context, tenantID, provider string, status Status, configuration map[string]string) (*Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !status.Valid() {
		return nil, errors.New("invalid status")
	}
	key := r.key(tenantID, provider)
	rec, ok := r.records[key]
	if !ok {
		rec = &Integration{ID: key, TenantID: tenantID, Provider: provider, CreatedAt: time.Now().UTC()}
		r.records[key] = rec
	}
	rec.Status = status
	if configuration != nil {
		rec.Configuration = RedactConfiguration(configuration)
	}
	if status == StatusConnected {
		now := time.Now().UTC()
		rec.ConnectedAt = &now
	}
	rec.FeaturesEnabled = FeaturesFor(provider)
	rec.UpdatedAt = time.Now().UTC()
	cp := *rec
	return &cp, nil
}

func (r *memRegistry) Get(_ context.Context, tenantID, provider string) (*Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[r.key(tenantID, provider)]
	if !ok {
		return nil, &NotFoundError{TenantID: tenantID, Provider: provider}
	}
	cp := *rec
	return &cp, nil
}

func (r *memRegistry) List(_ context.Context, tenantID string) ([]*Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Integration
	for _, rec := range r.records {
		if rec.TenantID == tenantID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memRegistry) CountConnected(_ context.Context, tenantID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.records {
		if rec.TenantID == tenantID && rec.Status == StatusConnected {
			n++
		}
	}
	return n, nil
}

type mockConnector struct {
	sourceID string
	err      error
	calls    int
}

func (c *mockConnector) CreateSource(_ context.Context, _ string, _, _ map[string]string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.sourceID, nil
}

func TestConnectSuccess(t *testing.T) {
	registry := newMemRegistry()
	connector := &mockConnector{sourceID: "src-42"}
	ledger := usage.NewMemoryLedger()
	svc := NewService(registry, connector, ledger, nil)

	integration, err := svc.Connect(context.Background(), "t1", "shopify", map[string]string{"api_key": "secret"}, map[string]string{"shop_domain": "acme.myshopify.com"})
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, integration.Status)
	assert.Equal(t, "src-42", integration.Configuration["source_id"])
	assert.NotNil(t, integration.ConnectedAt)
	assert.Equal(t, 1, connector.calls)

	// The integrations_used gauge snapshot landed in the ledger.
	got, err := ledger.Aggregate(context.Background(), "t1", plans.MetricIntegrationsUsed,
		time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestConnectExchangeFailure(t *testing.T) {
	registry := newMemRegistry()
	connector := &mockConnector{err: errors.New("invalid credentials")}
	svc := NewService(registry, connector, usage.NewMemoryLedger(), nil)

	_, err := svc.Connect(context.Background(), "t1", "shopify", nil, nil)
	require.Error(t, err)

	rec, err := registry.Get(context.Background(), "t1", "shopify")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
}

func TestDisconnectRevokes(t *testing.T) {
	registry := newMemRegistry()
	connector := &mockConnector{sourceID: "src-42"}
	ledger := usage.NewMemoryLedger()
	svc := NewService(registry, connector, ledger, nil)

	_, err := svc.Connect(context.Background(), "t1", "shopify", nil, nil)
	require.NoError(t, err)

	integration, err := svc.Disconnect(context.Background(), "t1", "shopify")
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, integration.Status)

	count, err := registry.CountConnected(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestDisconnectUnknownIntegration(t *testing.T) {
	svc := NewService(newMemRegistry(), &mockConnector{}, nil, nil)

	_, err := svc.Disconnect(context.Background(), "t1", "shopify")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestReconnectAfterRevokeReusesRecord(t *testing.T) {
	registry := newMemRegistry()
	svc := NewService(registry, &mockConnector{sourceID: "src-43"}, usage.NewMemoryLedger(), nil)

	_, err := svc.Connect(context.Background(), "t1", "shopify", nil, nil)
	require.NoError(t, err)
	_, err = svc.Disconnect(context.Background(), "t1", "shopify")
	require.NoError(t, err)
	_, err = svc.Connect(context.Background(), "t1", "shopify", nil, nil)
	require.NoError(t, err)

	list, err := registry.List(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusConnected, list[0].Status)
}

func TestLocalConnectorMintsUniqueSourceIDs(t *testing.T) {
	var connector LocalConnector

	a, err := connector.CreateSource(context.Background(), "shopify", nil, nil)
	require.NoError(t, err)
	b, err := connector.CreateSource(context.Background(), "shopify", nil, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "src_"))
	assert.NotEqual(t, a, b)
}

func TestConnectTrackingFailureDoesNotFailConnect(t *testing.T) {
	registry := newMemRegistry()
	ledger := usage.NewMemoryLedger()
	ledger.FailWrites = errors.New("ledger down")
	svc := NewService(registry, &mockConnector{sourceID: "src-42"}, ledger, nil)

	integration, err := svc.Connect(context.Background(), "t1", "shopify", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, integration.Status)
}
