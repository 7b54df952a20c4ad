package api

import (
	"context"
	"io"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/apps"
	"github.com/platinummonkey/tally/pkg/auth"
)

// Collector ingests one event for an authenticated key
type Collector interface {
	Ingest(ctx context.Context, key *auth.APIKey, body io.Reader, clientIP string) (*analytics.Event, error)
}

// AnalyticsQueries answers summary and user queries and drops cached summaries
type AnalyticsQueries interface {
	EventSummary(ctx context.Context, req analytics.SummaryRequest) (*analytics.Summary, error)
	UserStats(ctx context.Context, ownerUserID, trackingUserID string) (*analytics.UserStats, error)
	Invalidate(ctx context.Context, userID, event, appID string) (int64, error)
}

// AppManager manages a user's applications and the key attached to each
type AppManager interface {
	Register(ctx context.Context, userID string, req apps.CreateAppRequest) (*apps.Registration, error)
	List(ctx context.Context, userID string) ([]*apps.App, error)
	Get(ctx context.Context, appID, userID string) (*apps.App, error)
	Update(ctx context.Context, appID, userID string, req apps.UpdateAppRequest) (*apps.App, error)
	Deactivate(ctx context.Context, appID, userID string) error
	APIKey(ctx context.Context, appID, userID string) (*auth.APIKey, error)
	RevokeKey(ctx context.Context, appID, userID string) (*auth.APIKey, error)
	RegenerateKey(ctx context.Context, appID, userID string) (*auth.IssuedKey, error)
}

// KeyManager lists and revokes a user's API keys by id
type KeyManager interface {
	ListForUser(ctx context.Context, userID string) ([]*auth.APIKey, error)
	Revoke(ctx context.Context, keyID, userID string) error
}

var (
	_ Collector        = (*analytics.Ingestor)(nil)
	_ AnalyticsQueries = (*analytics.Service)(nil)
	_ AppManager       = (*apps.Service)(nil)
	_ KeyManager       = (*auth.KeyService)(nil)
)
