// Package middleware provides shared request-context helpers for the
// breadcrumb core. It lives in pkg/ so additional deployments embedding
// this core can reuse GetOwner/GetAgent/GetIdentity in their own routes.
package middleware

import "context"

type contextKey string

const (
	ownerKey contextKey = "owner"
	agentKey contextKey = "agent"
)

// GetOwner extracts the tenant id bound to this request. Returns "" if
// none is set (unauthenticated request, or a route that doesn't require one).
func GetOwner(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey).(string); ok {
		return v
	}
	return ""
}

// SetOwner binds the tenant id for this request. Called by tenant
// middleware after the identity is resolved.
func SetOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// GetAgent extracts the acting agent id bound to this request.
func GetAgent(ctx context.Context) string {
	if v, ok := ctx.Value(agentKey).(string); ok {
		return v
	}
	return ""
}

// SetAgent binds the acting agent id for this request.
func SetAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentKey, agent)
}
