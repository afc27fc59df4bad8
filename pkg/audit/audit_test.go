package audit

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrationEventType(t *testing.T) {
	assert.Equal(t, EventTypeIntegrationConnected, IntegrationEventType("connected"))
	assert.Equal(t, EventTypeIntegrationRevoked, IntegrationEventType("revoked"))
}

func TestMemoryLoggerListNewestFirstPerTenant(t *testing.T) {
	l := NewMemoryLogger()
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, &Event{EventType: EventTypeIntegrationPending, TenantID: "t1"}))
	require.NoError(t, l.Log(ctx, &Event{EventType: EventTypeIntegrationConnected, TenantID: "t1"}))
	require.NoError(t, l.Log(ctx, &Event{EventType: EventTypeIntegrationConnected, TenantID: "t2"}))

	events, err := l.List(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeIntegrationConnected, events[0].EventType)
	assert.Equal(t, EventTypeIntegrationPending, events[1].EventType)
}

func TestDBLoggerLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l, err := NewDBLogger(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(sqlmock.AnyArg(), EventTypeIntegrationConnected, ActorSystem, "t1",
			"integration", "salesforce", "integration connected", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = l.Log(context.Background(), &Event{
		EventType:    EventTypeIntegrationConnected,
		TenantID:     "t1",
		ResourceType: "integration",
		ResourceID:   "salesforce",
		Message:      "integration connected",
		Metadata:     map[string]any{"provider": "salesforce"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDBLoggerRequiresDB(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}
