// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, validation, and panic recovery.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
//	httputil.WriteSuccess(w, subscription)
//	httputil.WriteCreated(w, invoice)
//
// Error responses:
//
//	httputil.WriteBadRequest(w, "metric is required")
//	httputil.WriteNotFoundError(w, err.Error())
//	httputil.WriteConflict(w, "subscription already exists")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req CreateSubscriptionRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Query parameters:
//
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//
// # Validation
//
//	if !httputil.RequireNonEmpty(w, req.PlanID, "plan_id") {
//		return
//	}
//	if !httputil.RequirePositive(w, req.AmountCents, "amount_cents") {
//		return
//	}
//
// # Related Packages
//
//   - pkg/middleware: Tenant context, limit enforcement, and usage tracking
package httputil
