package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const callerKey contextKey = "caller"

// SetCaller stores the authenticated caller identity in the context.
func SetCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// GetCaller returns the caller identity set by the auth middleware, or
// false when no authentication ran.
func GetCaller(r *http.Request) (string, bool) {
	caller, ok := r.Context().Value(callerKey).(string)
	return caller, ok
}
