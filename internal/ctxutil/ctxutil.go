package ctxutil

import "context"

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	sessionKey   ctxKey = "session_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx returns the request ID, or "" when absent.
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithSessionID stores the admin session ID in the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey, id)
}

// SessionIDFromCtx returns the admin session ID, or "" when absent.
func SessionIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey).(string)
	return id
}
