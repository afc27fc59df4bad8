package integrations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/forgeworks/tollgate/pkg/observability"
	"github.com/forgeworks/tollgate/pkg/plans"
	"github.com/forgeworks/tollgate/pkg/usage"
)

// LocalConnector mints opaque source ids without calling out to an
// external data-source subsystem. Deployments with a real connector
// service substitute their own implementation; the registry only ever
// stores the returned id.
type LocalConnector struct{}

func (LocalConnector) CreateSource(_ context.Context, _ string, _, _ map[string]string) (string, error) {
	return "src_" + uuid.NewString(), nil
}

// Service drives the connect/disconnect lifecycle against the external
// data-source connector and keeps the integrations_used gauge current.
type Service struct {
	registry  Registry
	connector Connector
	ledger    usage.Ledger
	logger    *observability.Logger
}

// NewService creates a Service.
func NewService(registry Registry, connector Connector, ledger usage.Ledger, logger *observability.Logger) *Service {
	return &Service{registry: registry, connector: connector, ledger: ledger, logger: logger}
}

// Connect runs a connect flow: the record enters pending, the connector
// performs the credential exchange, and the outcome lands as connected or
// failed. Only the opaque source id is stored; raw credentials go to the
// connector and nowhere else.
func (s *Service) Connect(ctx context.Context, tenantID, provider string, credentials, config map[string]string) (*Integration, error) {
	if _, err := s.registry.Upsert(ctx, tenantID, provider, StatusPending, config); err != nil {
		return nil, err
	}

	sourceID, err := s.connector.CreateSource(ctx, provider, credentials, config)
	if err != nil {
		if _, upsertErr := s.registry.Upsert(ctx, tenantID, provider, StatusFailed, nil); upsertErr != nil && s.logger != nil {
			s.logger.WithError(upsertErr).Warn("failed to mark integration failed")
		}
		return nil, fmt.Errorf("credential exchange for %s failed: %w", provider, err)
	}

	connected := map[string]string{"source_id": sourceID}
	for k, v := range config {
		if _, reserved := connected[k]; !reserved {
			connected[k] = v
		}
	}
	integration, err := s.registry.Upsert(ctx, tenantID, provider, StatusConnected, connected)
	if err != nil {
		return nil, err
	}

	s.recordGauge(ctx, tenantID)
	return integration, nil
}

// Disconnect revokes the integration.
func (s *Service) Disconnect(ctx context.Context, tenantID, provider string) (*Integration, error) {
	if _, err := s.registry.Get(ctx, tenantID, provider); err != nil {
		return nil, err
	}
	integration, err := s.registry.Upsert(ctx, tenantID, provider, StatusRevoked, nil)
	if err != nil {
		return nil, err
	}
	s.recordGauge(ctx, tenantID)
	return integration, nil
}

// recordGauge snapshots the connected count into the usage ledger.
// Best-effort: tracking failure never fails the lifecycle action.
func (s *Service) recordGauge(ctx context.Context, tenantID string) {
	if s.ledger == nil {
		return
	}
	count, err := s.registry.CountConnected(ctx, tenantID)
	if err == nil {
		err = s.ledger.Record(ctx, tenantID, plans.MetricIntegrationsUsed, float64(count), time.Now().UTC())
	}
	if err != nil && s.logger != nil {
		s.logger.WithError(err).WithField("tenant_id", tenantID).Warn("failed to record integrations_used gauge")
	}
}
