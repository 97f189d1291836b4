// Package contextkeys holds the request context keys shared by the proxy
// packages. Values are set once per request by the middleware chain:
//
//	RequestIDMiddleware -> request id
//	LoggingMiddleware   -> request logger
//	session middleware  -> AuthContext and user id
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey holds the request's *auth.AuthContext
	AuthKey Key = "auth_context"
	// RequestIDKey holds the request id string
	RequestIDKey Key = "request_id"
	// UserIDKey holds the authenticated user's int64 id
	UserIDKey Key = "user_id"
	// LoggerKey holds the request's *observability.Logger
	LoggerKey Key = "logger"
)

// WithAuth stores the AuthContext. It is typed loosely so this package does
// not import pkg/auth.
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithRequestID stores the request id
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID stores the authenticated user's id
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger stores the request logger
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID returns the request id, or "" outside a request
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDKey).(string)
	return requestID
}

// GetUserID returns the user id and whether one was set
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}
