package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tally/pkg/async"
	"github.com/platinummonkey/tally/pkg/observability"
)

// DefaultKeyLifetime applies when no expiration is configured
const DefaultKeyLifetime = 90 * 24 * time.Hour

// ownershipError is returned when a user acts on someone else's key. It matches ErrNotKeyOwner.
type ownershipError struct {
	action string
}

func (e *ownershipError) Error() string {
	return "You are not authorized to " + e.action + " this API key"
}

func (e *ownershipError) Is(target error) bool {
	return target == ErrNotKeyOwner
}

// KeyService manages the API key lifecycle: issue, validate, rotate, revoke
type KeyService struct {
	repo      *Repository
	generator *KeyGenerator
	lifetime  time.Duration
	now       func() time.Time
	touch     func(ctx context.Context, key *APIKey)
}

// KeyServiceOption configures a KeyService
type KeyServiceOption func(*KeyService)

// WithKeyLifetime sets how long issued keys stay valid
func WithKeyLifetime(d time.Duration) KeyServiceOption {
	return func(s *KeyService) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) KeyServiceOption {
	return func(s *KeyService) { s.now = now }
}

// NewKeyService creates a new key service
func NewKeyService(repo *Repository, opts ...KeyServiceOption) *KeyService {
	s := &KeyService{
		repo:      repo,
		generator: NewKeyGenerator(),
		lifetime:  DefaultKeyLifetime,
		now:       time.Now,
	}
	s.touch = s.touchInBackground
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repository exposes the underlying repository
func (s *KeyService) Repository() *Repository {
	return s.repo
}

// Create issues a key for an application
func (s *KeyService) Create(ctx context.Context, userID, appID string, ipRestrictions []string) (*IssuedKey, error) {
	return s.CreateWith(ctx, s.repo, userID, appID, ipRestrictions)
}

// CreateWith issues a key through repo, which may be bound to a caller's transaction
func (s *KeyService) CreateWith(ctx context.Context, repo *Repository, userID, appID string, ipRestrictions []string) (*IssuedKey, error) {
	if err := ValidateIPRestrictions(ipRestrictions); err != nil {
		return nil, err
	}

	generated, err := s.generator.Generate()
	if err != nil {
		return nil, err
	}

	if ipRestrictions == nil {
		ipRestrictions = []string{}
	}
	key := &APIKey{
		ID:             uuid.New().String(),
		UserID:         userID,
		AppID:          appID,
		KeyHash:        generated.Hash,
		KeyPrefix:      generated.Prefix,
		IsActive:       true,
		ExpiresAt:      s.now().Add(s.lifetime).UTC(),
		IPRestrictions: ipRestrictions,
	}
	if err := repo.Insert(ctx, key); err != nil {
		return nil, err
	}

	return &IssuedKey{APIKey: key, Key: generated.Plaintext}, nil
}

// Validate authenticates a raw key presented by a client from ip. ip may be empty
// when the caller's address is unknown, in which case restrictions are not applied.
func (s *KeyService) Validate(ctx context.Context, rawKey, ip string) (*APIKey, error) {
	if rawKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if err := s.generator.ValidateFormat(rawKey); err != nil {
		return nil, ErrInvalidAPIKey
	}

	key, err := s.repo.FindActiveByHash(ctx, s.generator.Hash(rawKey))
	if errors.Is(err, ErrAPIKeyNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}

	if key.Expired(s.now()) {
		if err := s.repo.Deactivate(ctx, key.ID); err != nil {
			observability.FromContext(ctx).WithError(err).WithField("api_key_id", key.ID).
				Warn("failed to revoke expired api key")
		}
		return nil, ErrAPIKeyExpired
	}

	if len(key.IPRestrictions) > 0 {
		allow, err := key.AllowList()
		if err != nil || ip == "" || !allow.Allows(ip) {
			return nil, ErrIPNotAllowed
		}
	}

	s.touch(ctx, key)
	return key, nil
}

func (s *KeyService) touchInBackground(ctx context.Context, key *APIKey) {
	id := key.ID
	at := s.now().UTC()
	async.SafeGo(ctx, 2*time.Second, "api key last_used", func(ctx context.Context) error {
		return s.repo.TouchLastUsed(ctx, id, at)
	})
}

// ListForUser lists a user's active keys
func (s *KeyService) ListForUser(ctx context.Context, userID string) ([]*APIKey, error) {
	return s.repo.ListActiveByUser(ctx, userID, s.now())
}

// KeyIDsForUser resolves the key ids a user may query, optionally narrowed to one app
func (s *KeyService) KeyIDsForUser(ctx context.Context, userID, appID string) ([]string, error) {
	return s.repo.IDsForUser(ctx, userID, appID)
}

// ForApp returns the key issued to an application
func (s *KeyService) ForApp(ctx context.Context, appID string) (*APIKey, error) {
	return s.repo.FindByAppID(ctx, appID)
}

// Get returns a key owned by userID
func (s *KeyService) Get(ctx context.Context, keyID, userID string) (*APIKey, error) {
	return s.owned(ctx, keyID, userID, "access")
}

// Revoke deactivates a key owned by userID
func (s *KeyService) Revoke(ctx context.Context, keyID, userID string) error {
	if _, err := s.owned(ctx, keyID, userID, "revoke"); err != nil {
		return err
	}
	return s.repo.Deactivate(ctx, keyID)
}

// Regenerate rotates the secret and expiry of a key owned by userID
func (s *KeyService) Regenerate(ctx context.Context, keyID, userID string) (*IssuedKey, error) {
	key, err := s.owned(ctx, keyID, userID, "regenerate")
	if err != nil {
		return nil, err
	}

	generated, err := s.generator.Generate()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.lifetime).UTC()
	if err := s.repo.Rotate(ctx, keyID, generated.Hash, generated.Prefix, expiresAt); err != nil {
		return nil, err
	}

	key.KeyHash = generated.Hash
	key.KeyPrefix = generated.Prefix
	key.ExpiresAt = expiresAt
	key.IsActive = true
	return &IssuedKey{APIKey: key, Key: generated.Plaintext}, nil
}

// RevokeExpired deactivates every key past its expiry
func (s *KeyService) RevokeExpired(ctx context.Context) (int64, error) {
	return s.repo.DeactivateExpired(ctx, s.now())
}

func (s *KeyService) owned(ctx context.Context, keyID, userID, action string) (*APIKey, error) {
	if _, err := uuid.Parse(keyID); err != nil {
		return nil, ErrAPIKeyNotFound
	}
	key, err := s.repo.FindByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key.UserID != userID {
		return nil, &ownershipError{action: action}
	}
	return key, nil
}

// String is used in logs; it never includes the secret
func (k *IssuedKey) String() string {
	return fmt.Sprintf("api key %s (%s)", k.ID, k.KeyPrefix)
}
