// Package ctxkeys centralizes the request-scoped context keys threaded
// through the gateway's middleware and handlers.
package ctxkeys

import (
	"context"

	"github.com/cfxrouter/gateway/types"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	principalKey contextKey = "principal"
)

// WithRequestID attaches the request ID assigned by the RequestID
// middleware.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request ID attached by the RequestID middleware.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithPrincipal attaches the caller identity resolved by
// auth.Authenticator, for downstream handlers that need it outside the
// orchestrator's own request/response path (e.g. logging middleware).
func WithPrincipal(ctx context.Context, principal types.Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// Principal returns the caller identity attached by WithPrincipal.
func Principal(ctx context.Context) (types.Principal, bool) {
	v, ok := ctx.Value(principalKey).(types.Principal)
	return v, ok
}
