// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/coursehub/pkg/contextkeys"
//	ctx = contextkeys.WithSubject(ctx, subject)
//	subject, _ := ctx.Value(contextkeys.SubjectKey).(*auth.Subject)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SubjectKey contains *auth.Subject
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: All protected API endpoints
	// Type: *auth.Subject
	SubjectKey Key = "auth_subject"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.RequestIDMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithSubject adds the authenticated subject to the context
func WithSubject(ctx context.Context, subject interface{}) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
