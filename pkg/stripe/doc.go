// Package stripe adapts the Stripe API to the billing gateway contract.
// It normalizes Stripe's shapes at the boundary: plan ids map to price
// ids exactly once, timestamps become UTC time.Time, and webhook payloads
// decode into the gateway's event union rather than Stripe's own types.
package stripe
