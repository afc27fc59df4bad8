package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBLogger implements audit logging to PostgreSQL
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log writes an audit event row.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	var err error
	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	actor := event.Actor
	if actor == "" {
		actor = ActorSystem
	}

	query := `
		INSERT INTO audit_events (timestamp, event_type, actor, tenant_id, resource_type, resource_id, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = l.db.ExecContext(ctx, query,
		ts, event.EventType, actor, event.TenantID,
		event.ResourceType, event.ResourceID, event.Message, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// List returns recent events for a tenant, newest first.
func (l *DBLogger) List(ctx context.Context, tenantID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, timestamp, event_type, actor, tenant_id, resource_type, resource_id, message, metadata
		FROM audit_events
		WHERE tenant_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var metadataJSON []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.Actor,
			&e.TenantID, &e.ResourceType, &e.ResourceID, &e.Message, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
