// Package api exposes the HTTP surface: plan catalog reads, subscription
// lifecycle, usage and limit queries, integration management, and the
// payment processor webhook endpoint. Handlers are thin; domain rules
// live in the packages they call.
package api
