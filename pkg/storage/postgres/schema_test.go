package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSchema_AppliesAllStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for range schemaStatements {
		mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	err = EnsureSchema(context.Background(), db)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_StopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*").WillReturnError(errors.New("permission denied"))

	err = EnsureSchema(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply schema statement")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaStatements_Idempotent(t *testing.T) {
	for _, stmt := range schemaStatements {
		upper := strings.ToUpper(stmt)
		if strings.HasPrefix(upper, "CREATE TABLE") || strings.HasPrefix(upper, "CREATE INDEX") ||
			strings.HasPrefix(upper, "CREATE UNIQUE INDEX") {
			assert.Contains(t, upper, "IF NOT EXISTS", "statement must be rerunnable: %s", stmt)
		}
	}
}

func TestSchemaStatements_CoverAllTables(t *testing.T) {
	tables := []string{
		"billing_plans",
		"subscriptions",
		"usage_records",
		"integrations",
		"invoices",
		"invoice_items",
		"audit_events",
	}

	all := strings.Join(schemaStatements, "\n")
	for _, table := range tables {
		assert.Contains(t, all, "CREATE TABLE IF NOT EXISTS "+table, "missing table %s", table)
	}
}

func TestSchemaStatements_SubscriptionUniqueness(t *testing.T) {
	all := strings.Join(schemaStatements, "\n")

	// One live subscription per tenant, enforced in the database so
	// concurrent creates cannot both land.
	assert.Contains(t, all, "ON subscriptions (tenant_id) WHERE status <> 'canceled'")
	assert.Contains(t, all, "ON subscriptions (processor_subscription_id)")
}
