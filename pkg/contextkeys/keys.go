// Package contextkeys provides centralized context key definitions
//
// All request-scoped values stored on a context.Context are keyed here so that
// middleware and handlers agree on types.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/tally/pkg/contextkeys"
//	ctx = contextkeys.WithAPIKey(ctx, apiKey)
//	apiKey, _ := contextkeys.APIKey(ctx).(*auth.APIKey)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// APIKeyKey contains *auth.APIKey
	// Set by: middleware.APIKeyMiddleware (pkg/middleware/apikey.go)
	// Required by: ingestion and event summary handlers, rate limiter
	APIKeyKey Key = "api_key"

	// UserIDKey contains the authenticated user id string
	// Set by: middleware.UserAuthMiddleware (pkg/middleware/userauth.go)
	// Used by: app and key management handlers, rate limiter, logger
	UserIDKey Key = "user_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, error responses
	RequestIDKey Key = "request_id"

	// ClientIPKey contains the resolved client address string
	// Set by: httputil.ClientIPMiddleware
	// Used by: API key ip restrictions, rate limiter, access log
	ClientIPKey Key = "client_ip"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	LoggerKey Key = "logger"
)

// WithAPIKey adds the authenticated API key to the context
func WithAPIKey(ctx context.Context, apiKey interface{}) context.Context {
	return context.WithValue(ctx, APIKeyKey, apiKey)
}

// APIKey returns the raw API key value stored in the context, or nil
func APIKey(ctx context.Context) interface{} {
	return ctx.Value(APIKeyKey)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithClientIP adds the resolved client address to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP retrieves the resolved client address from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// Logger returns the raw logger value stored in the context, or nil
func Logger(ctx context.Context) interface{} {
	return ctx.Value(LoggerKey)
}
