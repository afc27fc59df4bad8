// Package billing implements the subscription coordinator: it owns the
// local subscription and invoice records and keeps them consistent with
// the external payment processor.
//
// # Source of truth
//
// The processor is authoritative for subscription status and period
// fields. Local code writes those fields only from a confirmed gateway
// response or a verified webhook event, never optimistically. Invoices
// are likewise never marked paid without processor confirmation.
//
// # State machine
//
//	trialing -> active
//	active  <-> past_due
//	past_due -> unpaid            (repeated payment failures)
//	{trialing, active, past_due, unpaid} -> canceled
//
// canceled is terminal; resuming requires a new subscription.
//
// # Serialization
//
// All subscription mutations lock the tenant's row
// (SELECT ... FOR UPDATE) so a plan change and a webhook resync for the
// same tenant can never interleave into an inconsistent
// (status, plan, period) tuple.
//
// # Webhooks
//
// Webhook processing is idempotent under at-least-once delivery: event
// ids are deduplicated through a short-lived Redis window, and every
// handler is additionally idempotent by construction.
package billing
