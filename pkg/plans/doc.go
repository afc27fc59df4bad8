// Package plans defines the billing plan catalog and the metric registry.
//
// # Plans
//
// A Plan couples a price to a set of resource limits. Limits use -1 to
// mean "unlimited"; enforcement must special-case the sentinel instead of
// comparing against it. A plan with PriceCents == 0 is a free tier: the
// subscription coordinator creates a local subscription for it without
// touching the payment processor.
//
// # Metric registry
//
// Every metered metric is declared once in Metrics together with its
// aggregation semantic:
//
//   - cumulative metrics (api_calls, workflows_executed) are summed over
//     the billing window
//   - gauge metrics (storage_gb, active_users, integrations_used,
//     custom_domains) take the maximum observed value in the window
//
// The usage ledger and the limit enforcer both consult this registry, so
// the aggregation for a metric can never be chosen per call site.
//
// # Catalogs
//
// StaticCatalog serves the built-in tiers. PostgresCatalog layers
// administratively created plans on top of the built-ins; plan creation is
// an admin operation and is never reachable from tenant-facing flows.
package plans
