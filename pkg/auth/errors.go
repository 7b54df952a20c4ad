package auth

import "errors"

var (
	// ErrAPIKeyRequired is returned when a request carries no API key
	ErrAPIKeyRequired = errors.New("API key is required")
	// ErrInvalidAPIKey is returned for unknown, malformed or revoked keys
	ErrInvalidAPIKey = errors.New("Invalid API key")
	// ErrAPIKeyExpired is returned when a key is past its expiry
	ErrAPIKeyExpired = errors.New("API key has expired")
	// ErrIPNotAllowed is returned when the caller's IP is outside the key's allow-list
	ErrIPNotAllowed = errors.New("Request from this IP address is not allowed")
	// ErrAPIKeyNotFound is returned when a key id does not exist
	ErrAPIKeyNotFound = errors.New("API key not found")
	// ErrNotKeyOwner is returned when a user acts on a key that belongs to someone else
	ErrNotKeyOwner = errors.New("You are not authorized to manage this API key")
	// ErrInvalidIPRestriction is returned when an allow-list entry is neither an IP nor a CIDR
	ErrInvalidIPRestriction = errors.New("One or more IP addresses are invalid. Use CIDR notation for IP ranges (e.g., 192.168.1.0/24)")
	// ErrUnauthenticated is returned when a bearer token is missing or cannot be verified
	ErrUnauthenticated = errors.New("Not authenticated")
	// ErrUnknownUser is returned when a verified identity has no matching user row
	ErrUnknownUser = errors.New("User not found")
)

// IsClientError reports whether err should be surfaced to the caller verbatim
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrAPIKeyRequired, ErrInvalidAPIKey, ErrAPIKeyExpired, ErrIPNotAllowed,
		ErrAPIKeyNotFound, ErrNotKeyOwner, ErrInvalidIPRestriction,
		ErrUnauthenticated, ErrUnknownUser,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
