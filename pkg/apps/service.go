package apps

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/tally/pkg/auth"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage/postgres"
)

// SummaryInvalidator drops cached summaries for a user, optionally narrowed to an app
type SummaryInvalidator interface {
	InvalidateUser(ctx context.Context, userID, event, appID string) (int64, error)
}

// Registration is the result of registering an app: the app and its freshly issued key
type Registration struct {
	App    *App            `json:"app"`
	APIKey *auth.IssuedKey `json:"apiKey"`
}

// Service manages applications and the key each one owns
type Service struct {
	db    *sql.DB
	repo  *Repository
	keys  *auth.KeyService
	cache SummaryInvalidator
}

// NewService creates a new app service. cache may be nil.
func NewService(db *sql.DB, keys *auth.KeyService, cache SummaryInvalidator) *Service {
	return &Service{
		db:    db,
		repo:  NewRepository(db),
		keys:  keys,
		cache: cache,
	}
}

// Register creates an app and its API key in one transaction
func (s *Service) Register(ctx context.Context, userID string, req CreateAppRequest) (*Registration, error) {
	app := &App{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        strings.TrimSpace(req.AppName),
		Description: req.Description,
		URL:         req.AppURL,
		IsActive:    true,
	}

	var issued *auth.IssuedKey
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := NewRepository(tx).Insert(ctx, app); err != nil {
			return err
		}
		var err error
		issued, err = s.keys.CreateWith(ctx, auth.NewRepository(tx), userID, app.ID, req.IPRestrictions)
		return err
	})
	if err != nil {
		return nil, err
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"app_id":     app.ID,
		"api_key_id": issued.ID,
	}).Info("app registered")
	return &Registration{App: app, APIKey: issued}, nil
}

// List returns the user's active apps
func (s *Service) List(ctx context.Context, userID string) ([]*App, error) {
	return s.repo.ListActiveByUser(ctx, userID)
}

// Get returns an app owned by userID
func (s *Service) Get(ctx context.Context, appID, userID string) (*App, error) {
	if err := ValidateAppID(appID); err != nil {
		return nil, err
	}
	return s.repo.FindOwned(ctx, appID, userID)
}

// Owns reports whether userID owns appID
func (s *Service) Owns(ctx context.Context, userID, appID string) (bool, error) {
	_, err := s.Get(ctx, appID, userID)
	if errors.Is(err, ErrAppNotFound) || errors.Is(err, ErrInvalidAppID) {
		return false, nil
	}
	return err == nil, err
}

// Update changes an app's name, description or URL
func (s *Service) Update(ctx context.Context, appID, userID string, req UpdateAppRequest) (*App, error) {
	if err := ValidateAppID(appID); err != nil {
		return nil, err
	}
	if req.AppName != nil {
		trimmed := strings.TrimSpace(*req.AppName)
		req.AppName = &trimmed
	}
	if err := s.repo.Update(ctx, appID, userID, req); err != nil {
		return nil, err
	}
	return s.repo.FindOwned(ctx, appID, userID)
}

// Deactivate disables an app, revokes its key and drops its cached summaries
func (s *Service) Deactivate(ctx context.Context, appID, userID string) error {
	if err := ValidateAppID(appID); err != nil {
		return err
	}

	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := NewRepository(tx).Deactivate(ctx, appID, userID); err != nil {
			return err
		}
		return auth.NewRepository(tx).DeactivateForApp(ctx, appID)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, userID, appID)
	return nil
}

// APIKey returns the metadata of the key issued to an app owned by userID
func (s *Service) APIKey(ctx context.Context, appID, userID string) (*auth.APIKey, error) {
	if _, err := s.Get(ctx, appID, userID); err != nil {
		return nil, err
	}
	return s.keys.ForApp(ctx, appID)
}

// RevokeKey deactivates the key of an app owned by userID
func (s *Service) RevokeKey(ctx context.Context, appID, userID string) (*auth.APIKey, error) {
	key, err := s.APIKey(ctx, appID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.keys.Revoke(ctx, key.ID, userID); err != nil {
		return nil, err
	}
	key.IsActive = false
	return key, nil
}

// RegenerateKey rotates the key of an active app owned by userID
func (s *Service) RegenerateKey(ctx context.Context, appID, userID string) (*auth.IssuedKey, error) {
	app, err := s.Get(ctx, appID, userID)
	if err != nil {
		return nil, err
	}
	if !app.IsActive {
		return nil, ErrAppInactive
	}
	key, err := s.keys.ForApp(ctx, appID)
	if err != nil {
		return nil, err
	}
	return s.keys.Regenerate(ctx, key.ID, userID)
}

func (s *Service) invalidate(ctx context.Context, userID, appID string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.InvalidateUser(ctx, userID, "", appID); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("app_id", appID).
			Warn("failed to invalidate cached summaries")
	}
}
