package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/tally/pkg/auth"
	"github.com/platinummonkey/tally/pkg/contextkeys"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/observability"
)

// APIKeyHeader carries the tenant credential on analytics requests
const APIKeyHeader = "x-api-key"

// KeyValidator authenticates a raw API key presented from ip
type KeyValidator interface {
	Validate(ctx context.Context, rawKey, ip string) (*auth.APIKey, error)
}

// UserAuthenticator resolves an Authorization header value to a user id
type UserAuthenticator interface {
	Authenticate(ctx context.Context, authorization string) (string, error)
}

// RequireAPIKey validates the x-api-key header and stores the key on the request context
func RequireAPIKey(keys KeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			key, err := keys.Validate(ctx, r.Header.Get(APIKeyHeader), httputil.ClientIP(r))
			if err != nil {
				writeAuthError(ctx, w, err)
				return
			}

			ctx = contextkeys.WithAPIKey(ctx, key)
			ctx = contextkeys.WithUserID(ctx, key.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser authenticates the bearer token and stores the user id on the request context
func RequireUser(users UserAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			userID, err := users.Authenticate(ctx, r.Header.Get("Authorization"))
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrUnknownUser) {
					observability.FromContext(ctx).WithError(err).Debug("bearer authentication failed")
					httputil.WriteUnauthorized(w, auth.ErrUnauthenticated.Error())
					return
				}
				writeAuthError(ctx, w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithUserID(ctx, userID)))
		})
	}
}

// APIKeyFromContext returns the key stored by RequireAPIKey
func APIKeyFromContext(ctx context.Context) (*auth.APIKey, bool) {
	key, ok := contextkeys.APIKey(ctx).(*auth.APIKey)
	return key, ok && key != nil
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrIPNotAllowed):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, auth.ErrAPIKeyRequired),
		errors.Is(err, auth.ErrInvalidAPIKey),
		errors.Is(err, auth.ErrAPIKeyExpired):
		httputil.WriteUnauthorized(w, err.Error())
	default:
		observability.FromContext(ctx).WithError(err).Error("authentication failed")
		httputil.WriteInternalError(w)
	}
}
