// Package middleware provides HTTP middleware for tenant context, plan
// limit enforcement, and usage tracking.
//
// # Middleware Ordering Requirements
//
// Enforcement and tracking both read the tenant id from the request
// context, so TenantContext must run first:
//
//	router.Use(middleware.TenantContext)             // 1. Sets tenant context
//	router.Use(enforcement.RequireWithinLimits)      // 2. Denies billable requests from over-limit tenants
//	router.Use(tracker.TrackAPICalls)                // 3. Records usage (best-effort)
//
// Tracking runs after enforcement so denied requests accrue no usage.
// Requests without a tenant header pass through both untouched; the API
// layer decides which routes require a tenant.
package middleware

import (
	"context"
	"net/http"
)

// TenantHeader carries the acting tenant's id on API requests.
const TenantHeader = "X-Tenant-ID"

type tenantContextKey string

const tenantKey tenantContextKey = "tenant_id"

// TenantContext copies the tenant header into the request context.
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID := r.Header.Get(TenantHeader); tenantID != "" {
			ctx := context.WithValue(r.Context(), tenantKey, tenantID)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// TenantID retrieves the tenant id from context; empty when the request
// carried no tenant header.
func TenantID(ctx context.Context) string {
	tenantID, _ := ctx.Value(tenantKey).(string)
	return tenantID
}

// WithTenantID returns a context carrying the tenant id. Used by tests
// and non-HTTP callers.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}
