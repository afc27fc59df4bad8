// Package limits evaluates tenant usage against plan ceilings.
//
// Enforcement is read-only over the usage ledger: recording usage never
// blocks, and the enforcer decides after the fact whether a tenant has
// gone over. A limit of -1 means the metric is uncapped; a value is over
// the limit only when it strictly exceeds it, so a tenant sitting exactly
// at the ceiling is still within limits.
//
// Tenants without a current subscription are denied outright rather than
// falling back to an implicit free tier.
package limits
