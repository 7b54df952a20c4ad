package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tally/pkg/observability"
)

var tracer = otel.Tracer("tally/analytics")

const (
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"

	topEventsLimit = 5
)

// KeyResolver lists the API key ids a user owns, optionally narrowed to one app
type KeyResolver interface {
	KeyIDsForUser(ctx context.Context, userID, appID string) ([]string, error)
}

// AppOwnership reports whether a user owns an app
type AppOwnership interface {
	Owns(ctx context.Context, userID, appID string) (bool, error)
}

// SummaryQuery selects the events a summary is computed over
type SummaryQuery struct {
	UserID string
	Event  string
	Range  DateRange
	AppID  string
}

// Engine computes aggregates from the durable event log
type Engine struct {
	events  *Repository
	keys    KeyResolver
	apps    AppOwnership
	metrics *observability.Metrics
}

// NewEngine creates an aggregation engine. events should read from a replica when one is configured.
func NewEngine(events *Repository, keys KeyResolver, apps AppOwnership, metrics *observability.Metrics) *Engine {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &Engine{events: events, keys: keys, apps: apps, metrics: metrics}
}

// ResolveKeyIDs returns the key ids a user's query may read. A foreign or
// unknown app is ErrAppNotOwned; a user without keys is ErrNoCredentials.
func (e *Engine) ResolveKeyIDs(ctx context.Context, userID, appID string) ([]string, error) {
	if appID != "" {
		if _, err := uuid.Parse(appID); err != nil {
			return nil, ErrInvalidAppScope
		}
		owns, err := e.apps.Owns(ctx, userID, appID)
		if err != nil {
			return nil, err
		}
		if !owns {
			return nil, ErrAppNotOwned
		}
	}

	ids, err := e.keys.KeyIDsForUser(ctx, userID, appID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNoCredentials
	}
	return ids, nil
}

func (e *Engine) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Engine."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.metrics.AggregationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// Summarize counts events, unique tracking users and mobile/desktop devices
// for one event type. The three queries run concurrently.
func (e *Engine) Summarize(ctx context.Context, q SummaryQuery) (summary *Summary, err error) {
	ctx, done := e.span(ctx, "summarize",
		attribute.String("analytics.event", q.Event),
		attribute.String("analytics.app_id", q.AppID),
	)
	defer func() { done(err) }()

	keyIDs, err := e.ResolveKeyIDs(ctx, q.UserID, q.AppID)
	if err != nil {
		return nil, err
	}

	summary = &Summary{Event: q.Event}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := e.events.CountEvents(gctx, keyIDs, q.Event, q.Range)
		summary.Count = n
		return err
	})
	g.Go(func() error {
		n, err := e.events.CountUniqueUsers(gctx, keyIDs, q.Event, q.Range)
		summary.UniqueUsers = n
		return err
	})
	g.Go(func() error {
		breakdown, err := e.events.DeviceBreakdown(gctx, keyIDs, q.Event, q.Range)
		summary.DeviceData = breakdown
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}

// UserStats describes one tracking user across the given keys
func (e *Engine) UserStats(ctx context.Context, trackingUserID string, keyIDs []string) (stats *UserStats, err error) {
	ctx, done := e.span(ctx, "user_stats", attribute.Int("analytics.key_count", len(keyIDs)))
	defer func() { done(err) }()

	total, err := e.events.CountUserEvents(ctx, keyIDs, trackingUserID)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, ErrTrackingUserNotFound
	}

	stats = &UserStats{UserID: trackingUserID, TotalEvents: total}
	var latest *Event
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		latest, err = e.events.LatestUserEvent(gctx, keyIDs, trackingUserID)
		return err
	})
	g.Go(func() error {
		top, err := e.events.TopUserEvents(gctx, keyIDs, trackingUserID, topEventsLimit)
		stats.TopEvents = top
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if latest != nil {
		seen := latest.Timestamp
		stats.LastSeen = &seen
		stats.IPAddress = latest.IPAddress
		stats.DeviceDetails = DeviceDetails{
			Device:     latest.Device,
			Browser:    latest.Metadata.Browser(),
			OS:         latest.Metadata.OS(),
			ScreenSize: latest.Metadata.ScreenSize(),
		}
	}
	return stats, nil
}
