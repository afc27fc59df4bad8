// Package postgres manages the PostgreSQL and Redis connections behind
// the service.
//
// # Overview
//
// Connect opens the lib/pq connection pool used by every store
// (subscriptions, usage records, integrations, invoices, audit events).
// EnsureSchema applies the idempotent DDL on startup, so a fresh
// database is usable without an external migration step. ConnectRedis
// opens the client that backs webhook deduplication and the readiness
// probe.
//
// # Usage Example
//
// Wire the pool at startup:
//
//	db, err := postgres.Connect(postgres.Config{
//		URL:      cfg.Database.URL,
//		MaxConns: cfg.Database.MaxConns,
//		MinConns: cfg.Database.MinConns,
//		Timeout:  cfg.Database.Timeout,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := postgres.EnsureSchema(ctx, db); err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/config: Source of connection settings
//   - pkg/observability: Health checks ping these connections
package postgres
