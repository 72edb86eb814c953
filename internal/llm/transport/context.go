package transport

import (
	"context"

	"github.com/google/uuid"
)

// DefaultTenantID is used when no tenant has been attached to the context.
const DefaultTenantID = "default"

type tenantKey struct{}

type traceKey struct{}

// WithTenantID attaches a tenant identifier used for cache isolation.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// ExtractTenantID retrieves the tenant identifier from the context,
// falling back to DefaultTenantID.
func ExtractTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok && v != "" {
		return v
	}
	return DefaultTenantID
}

// WithTraceID attaches a trace identifier for request correlation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// ExtractTraceID retrieves the trace identifier from the context or generates one.
func ExtractTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return uuid.New().String()
}
