package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements holds the DDL for every table the service owns.
// Statements are idempotent so EnsureSchema can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS billing_plans (
		id                   TEXT PRIMARY KEY,
		name                 TEXT NOT NULL,
		price_cents          BIGINT NOT NULL,
		currency             TEXT NOT NULL,
		interval             TEXT NOT NULL,
		limit_users          BIGINT NOT NULL,
		limit_storage_gb     BIGINT NOT NULL,
		limit_api_calls      BIGINT NOT NULL,
		limit_integrations   BIGINT NOT NULL,
		limit_custom_domains BIGINT NOT NULL,
		features             TEXT[] NOT NULL DEFAULT '{}',
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id                        TEXT PRIMARY KEY,
		tenant_id                 TEXT NOT NULL,
		plan_id                   TEXT NOT NULL,
		status                    TEXT NOT NULL,
		billing_email             TEXT NOT NULL,
		processor_customer_id     TEXT,
		processor_subscription_id TEXT,
		current_period_start      TIMESTAMPTZ NOT NULL,
		current_period_end        TIMESTAMPTZ NOT NULL,
		cancel_at_period_end      BOOLEAN NOT NULL DEFAULT FALSE,
		trial_end                 TIMESTAMPTZ,
		canceled_at               TIMESTAMPTZ,
		created_at                TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// One live subscription per tenant; canceled rows are history.
	`CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_tenant_current_idx
		ON subscriptions (tenant_id) WHERE status <> 'canceled'`,

	`CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_processor_id_idx
		ON subscriptions (processor_subscription_id) WHERE processor_subscription_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS usage_records (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		metric      TEXT NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL,
		period      TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS usage_records_tenant_metric_idx
		ON usage_records (tenant_id, metric, recorded_at)`,

	`CREATE TABLE IF NOT EXISTS integrations (
		id               TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL,
		provider         TEXT NOT NULL,
		status           TEXT NOT NULL,
		connected_at     TIMESTAMPTZ,
		configuration    JSONB,
		features_enabled TEXT[] NOT NULL DEFAULT '{}',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, provider)
	)`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id                   TEXT PRIMARY KEY,
		tenant_id            TEXT NOT NULL,
		subscription_id      TEXT NOT NULL,
		processor_invoice_id TEXT UNIQUE,
		amount_cents         BIGINT NOT NULL,
		currency             TEXT NOT NULL,
		status               TEXT NOT NULL,
		due_date             TIMESTAMPTZ,
		paid_at              TIMESTAMPTZ,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS invoices_tenant_idx
		ON invoices (tenant_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS invoice_items (
		id               TEXT PRIMARY KEY,
		invoice_id       TEXT NOT NULL REFERENCES invoices (id) ON DELETE CASCADE,
		description      TEXT NOT NULL,
		quantity         BIGINT NOT NULL,
		unit_price_cents BIGINT NOT NULL,
		amount_cents     BIGINT NOT NULL,
		item_type        TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS invoice_items_invoice_idx
		ON invoice_items (invoice_id)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id            BIGSERIAL PRIMARY KEY,
		timestamp     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		event_type    TEXT NOT NULL,
		actor         TEXT NOT NULL,
		tenant_id     TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id   TEXT NOT NULL,
		message       TEXT NOT NULL,
		metadata      JSONB
	)`,

	`CREATE INDEX IF NOT EXISTS audit_events_tenant_idx
		ON audit_events (tenant_id, timestamp DESC)`,
}

// EnsureSchema creates any missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
