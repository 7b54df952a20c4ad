package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// SubjectVerifier verifies a raw bearer token and returns the subject it was issued for
type SubjectVerifier interface {
	VerifySubject(ctx context.Context, rawToken string) (string, error)
}

type idTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func (v *idTokenVerifier) VerifySubject(ctx context.Context, rawToken string) (string, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", err
	}
	return token.Subject, nil
}

// NewOIDCVerifier discovers the issuer and returns a verifier for ID tokens minted for clientID
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (SubjectVerifier, error) {
	if issuerURL == "" {
		return nil, errors.New("OIDC issuer URL is required")
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return &idTokenVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// UserRepository resolves identities against the users table
type UserRepository struct {
	db Querier
}

// NewUserRepository creates a new user repository
func NewUserRepository(db Querier) *UserRepository {
	return &UserRepository{db: db}
}

// IDByOAuthID returns the id of the user linked to an identity provider subject
func (r *UserRepository) IDByOAuthID(ctx context.Context, oauthID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM users WHERE oauth_id = $1`, oauthID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownUser
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	return id, nil
}

// OIDCAuthenticator turns a bearer ID token into a user id
type OIDCAuthenticator struct {
	verifier SubjectVerifier
	users    *UserRepository
	subjects *lru.LRU[string, string]
}

// NewOIDCAuthenticator creates an authenticator that memoises subject lookups
// for ttl, holding at most size entries
func NewOIDCAuthenticator(verifier SubjectVerifier, users *UserRepository, size int, ttl time.Duration) *OIDCAuthenticator {
	if size <= 0 {
		size = 10000
	}
	return &OIDCAuthenticator{
		verifier: verifier,
		users:    users,
		subjects: lru.NewLRU[string, string](size, nil, ttl),
	}
}

// Authenticate verifies the token in an Authorization header value and returns the user id
func (a *OIDCAuthenticator) Authenticate(ctx context.Context, authorization string) (string, error) {
	rawToken, ok := bearerToken(authorization)
	if !ok {
		return "", ErrUnauthenticated
	}

	subject, err := a.verifier.VerifySubject(ctx, rawToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if userID, ok := a.subjects.Get(subject); ok {
		return userID, nil
	}

	userID, err := a.users.IDByOAuthID(ctx, subject)
	if err != nil {
		return "", err
	}
	a.subjects.Add(subject, userID)
	return userID, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
