// ABOUTME: Call-scoped identity context carried through resolver and completion calls
// ABOUTME: Provides WithCall/CallFromContext so user and agency IDs never live in globals

package auth

import (
	"context"
)

// CallContext holds the identity of the current completion cycle: the
// authenticated user and, once resolved, the agency serving the session.
// It is attached to the context passed into the session resolver and the
// upstream completion call, and goes away with the call. Downstream code
// (for example per-user API key lookup) reads it with CallFromContext.
type CallContext struct {
	UserID   string
	AgencyID string
}

// callContextKey is the key type for storing CallContext in context.Context.
type callContextKey struct{}

// WithCall returns a new context with the CallContext attached.
func WithCall(ctx context.Context, call *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, call)
}

// CallFromContext retrieves the CallContext from the context, returning nil if not present.
func CallFromContext(ctx context.Context) *CallContext {
	val := ctx.Value(callContextKey{})
	if val == nil {
		return nil
	}
	call, ok := val.(*CallContext)
	if !ok {
		return nil
	}
	return call
}
