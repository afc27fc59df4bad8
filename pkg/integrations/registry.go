package integrations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/forgeworks/tollgate/pkg/audit"
	"github.com/forgeworks/tollgate/pkg/observability"
)

// PostgresRegistry implements Registry backed by the integrations table.
type PostgresRegistry struct {
	db     *sql.DB
	audit  audit.Logger
	logger *observability.Logger
}

// NewPostgresRegistry creates a PostgresRegistry.
func NewPostgresRegistry(db *sql.DB, auditLogger audit.Logger, logger *observability.Logger) *PostgresRegistry {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &PostgresRegistry{db: db, audit: auditLogger, logger: logger}
}

// Upsert creates or updates the (tenant, provider) record. Reconnection
// after a revoke reuses the same row. Secrets are redacted before the row
// is written; the raw credential only ever lives in the external secret
// store referenced by source_id.
func (r *PostgresRegistry) Upsert(ctx context.Context, tenantID, provider string, status Status, configuration map[string]string) (*Integration, error) {
	if tenantID == "" || provider == "" {
		return nil, fmt.Errorf("tenant id and provider are required")
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid integration status %q", status)
	}

	redacted := RedactConfiguration(configuration)
	var configJSON []byte
	if redacted != nil {
		var err error
		configJSON, err = json.Marshal(redacted)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal configuration: %w", err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var prevStatus sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM integrations WHERE tenant_id = $1 AND provider = $2 FOR UPDATE`,
		tenantID, provider).Scan(&prevStatus)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read integration: %w", err)
	}

	var connectedAt *time.Time
	if status == StatusConnected {
		now := time.Now().UTC()
		connectedAt = &now
	}

	query := `
		INSERT INTO integrations (id, tenant_id, provider, status, connected_at, configuration, features_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, provider) DO UPDATE
		SET status = EXCLUDED.status,
		    connected_at = COALESCE(EXCLUDED.connected_at, integrations.connected_at),
		    configuration = COALESCE(EXCLUDED.configuration, integrations.configuration),
		    features_enabled = EXCLUDED.features_enabled,
		    updated_at = NOW()
		RETURNING id, connected_at, configuration, created_at, updated_at
	`
	integration := &Integration{
		TenantID:        tenantID,
		Provider:        provider,
		Status:          status,
		FeaturesEnabled: FeaturesFor(provider),
	}
	var storedConfig []byte
	err = tx.QueryRowContext(ctx, query,
		uuid.NewString(), tenantID, provider, status, connectedAt, configJSON,
		pq.StringArray(integration.FeaturesEnabled),
	).Scan(&integration.ID, &integration.ConnectedAt, &storedConfig, &integration.CreatedAt, &integration.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert integration: %w", err)
	}
	if len(storedConfig) > 0 {
		if err := json.Unmarshal(storedConfig, &integration.Configuration); err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit integration upsert: %w", err)
	}

	if !prevStatus.Valid || Status(prevStatus.String) != status {
		r.auditStatusChange(ctx, tenantID, provider, status)
	}

	return integration, nil
}

// auditStatusChange appends the mandatory audit entry. Audit failures are
// logged and never block the upsert itself.
func (r *PostgresRegistry) auditStatusChange(ctx context.Context, tenantID, provider string, status Status) {
	err := r.audit.Log(ctx, &audit.Event{
		EventType:    audit.IntegrationEventType(string(status)),
		Actor:        audit.ActorSystem,
		TenantID:     tenantID,
		ResourceType: "integration",
		ResourceID:   provider,
		Message:      fmt.Sprintf("integration %s %s", provider, status),
	})
	if err != nil && r.logger != nil {
		r.logger.WithError(err).
			WithField("tenant_id", tenantID).
			WithField("provider", provider).
			Warn("failed to write integration audit entry")
	}
}

// Get returns the record for (tenant, provider).
func (r *PostgresRegistry) Get(ctx context.Context, tenantID, provider string) (*Integration, error) {
	query := `
		SELECT id, tenant_id, provider, status, connected_at, configuration, features_enabled, created_at, updated_at
		FROM integrations
		WHERE tenant_id = $1 AND provider = $2
	`
	integration, err := scanIntegration(r.db.QueryRowContext(ctx, query, tenantID, provider))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{TenantID: tenantID, Provider: provider}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return integration, nil
}

// List returns all of the tenant's integrations ordered by provider.
func (r *PostgresRegistry) List(ctx context.Context, tenantID string) ([]*Integration, error) {
	query := `
		SELECT id, tenant_id, provider, status, connected_at, configuration, features_enabled, created_at, updated_at
		FROM integrations
		WHERE tenant_id = $1
		ORDER BY provider
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var out []*Integration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		out = append(out, integration)
	}
	return out, rows.Err()
}

// CountConnected returns the number of connected integrations.
func (r *PostgresRegistry) CountConnected(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM integrations WHERE tenant_id = $1 AND status = $2`,
		tenantID, StatusConnected).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count integrations: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntegration(row rowScanner) (*Integration, error) {
	integration := &Integration{}
	var configJSON []byte
	var features pq.StringArray
	err := row.Scan(
		&integration.ID, &integration.TenantID, &integration.Provider, &integration.Status,
		&integration.ConnectedAt, &configJSON, &features,
		&integration.CreatedAt, &integration.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	integration.FeaturesEnabled = features
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &integration.Configuration); err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
		}
	}
	return integration, nil
}
