// Package integrations tracks each tenant's connected external data
// sources across their lifecycle: pending -> connected -> failed/revoked.
//
// A tenant holds at most one record per (tenant, provider) pair;
// reconnecting after a revocation upserts the existing row back through
// pending rather than creating a duplicate. Every status-changing upsert
// appends an audit entry: connect/disconnect is a security-relevant
// event and the trail is mandatory.
//
// Secrets inside an integration's configuration never reach storage or
// logs in the clear: known-sensitive keys are replaced with a fixed mask,
// and the raw credential lives in the external secret store referenced by
// source_id.
package integrations
