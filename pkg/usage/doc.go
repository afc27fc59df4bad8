// Package usage implements the append-only usage ledger.
//
// Usage records are immutable events: they are inserted, aggregated, and
// eventually purged by retention policy, never updated. Aggregation
// semantics come from the plans metric registry (cumulative metrics sum
// over the query window, gauge metrics take the window maximum), so a
// caller can never pick the wrong aggregation for a metric.
//
// Recording is best-effort by design: usage tracking must never block the
// tenant action that produced the event. Store failures come back as a
// *TrackingError; callers on the hot path log it and move on.
package usage
