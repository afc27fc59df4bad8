package audit

import (
	"context"
	"sync"
	"time"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// List returns recent events for a tenant, newest first.
	List(ctx context.Context, tenantID string, limit int) ([]*Event, error)
}

// NopLogger discards all events. Used where auditing is not configured.
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) error { return nil }
func (NopLogger) List(context.Context, string, int) ([]*Event, error) {
	return nil, nil
}

// MemoryLogger keeps events in memory, for tests.
type MemoryLogger struct {
	mu     sync.Mutex
	events []*Event
}

// NewMemoryLogger creates an empty MemoryLogger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log appends an event.
func (l *MemoryLogger) Log(_ context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *event
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	cp.ID = int64(len(l.events) + 1)
	l.events = append(l.events, &cp)
	return nil
}

// List returns events for the tenant, newest first.
func (l *MemoryLogger) List(_ context.Context, tenantID string, limit int) ([]*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Event
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].TenantID != tenantID {
			continue
		}
		out = append(out, l.events[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Events returns all recorded events in insertion order.
func (l *MemoryLogger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Event, len(l.events))
	copy(out, l.events)
	return out
}
