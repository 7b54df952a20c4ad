package analytics

import (
	"context"
	"strings"
	"time"

	"github.com/platinummonkey/tally/pkg/cache"
)

// SummaryRequest carries the raw query parameters of an event summary
type SummaryRequest struct {
	UserID      string
	Event       string
	StartDate   string
	EndDate     string
	AppID       string
	BypassCache bool
}

// Service answers analytics queries through the summary cache
type Service struct {
	engine    *Engine
	cache     *cache.Cache
	rangeDays int
	now       func() time.Time
}

// NewService creates an analytics service. c may be nil to disable caching.
func NewService(engine *Engine, c *cache.Cache, rangeDays int) *Service {
	if rangeDays <= 0 {
		rangeDays = DefaultRangeDays
	}
	return &Service{engine: engine, cache: c, rangeDays: rangeDays, now: time.Now}
}

// Engine exposes the aggregation engine
func (s *Service) Engine() *Engine {
	return s.engine
}

// EventSummary returns the summary for req, served from cache when possible.
// BypassCache drops the cached entry and recomputes it.
func (s *Service) EventSummary(ctx context.Context, req SummaryRequest) (*Summary, error) {
	event := strings.TrimSpace(req.Event)
	if event == "" {
		return nil, ErrEventRequired
	}
	rng, err := ParseDateRange(req.StartDate, req.EndDate, s.now(), s.rangeDays)
	if err != nil {
		return nil, err
	}

	q := SummaryQuery{UserID: req.UserID, Event: event, Range: rng, AppID: req.AppID}
	if s.cache == nil {
		return s.engine.Summarize(ctx, q)
	}

	key := cache.Fingerprint{
		UserID: req.UserID,
		Event:  event,
		Start:  rng.Start,
		End:    rng.End,
		AppID:  req.AppID,
	}.Key()
	return cache.GetOrCompute(ctx, s.cache, key, req.BypassCache, func(ctx context.Context) (*Summary, error) {
		return s.engine.Summarize(ctx, q)
	})
}

// UserStats describes a tracking user across every key ownerUserID owns
func (s *Service) UserStats(ctx context.Context, ownerUserID, trackingUserID string) (*UserStats, error) {
	trackingUserID = strings.TrimSpace(trackingUserID)
	if trackingUserID == "" {
		return nil, ErrTrackingUserRequired
	}
	keyIDs, err := s.engine.ResolveKeyIDs(ctx, ownerUserID, "")
	if err != nil {
		return nil, err
	}
	return s.engine.UserStats(ctx, trackingUserID, keyIDs)
}

// Invalidate drops cached summaries for a user, optionally narrowed to an event and/or app
func (s *Service) Invalidate(ctx context.Context, userID, event, appID string) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.InvalidateUser(ctx, userID, event, appID)
}
