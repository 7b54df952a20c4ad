// Package auth issues and validates tally API keys and authenticates users.
//
// # API keys
//
// Every registered application owns exactly one key. Keys look like
//
//	tly_<base64url(32 random bytes)>
//
// and are stored only as a SHA256 hash plus an 8 character display prefix.
// The plaintext is returned once, from KeyService.Create or KeyService.Regenerate.
//
//	svc := auth.NewKeyService(auth.NewRepository(db), auth.WithKeyLifetime(90*24*time.Hour))
//	issued, err := svc.Create(ctx, userID, appID, []string{"192.168.1.0/24"})
//	key, err := svc.Validate(ctx, r.Header.Get("x-api-key"), clientIP)
//
// Validate rejects unknown and revoked keys with ErrInvalidAPIKey, revokes and
// rejects expired keys with ErrAPIKeyExpired, and enforces the key's IP
// allow-list (exact addresses and CIDR ranges) with ErrIPNotAllowed.
//
// # Users
//
// OIDCAuthenticator verifies bearer ID tokens with go-oidc and maps the token
// subject to a users row through users.oauth_id.
package auth
