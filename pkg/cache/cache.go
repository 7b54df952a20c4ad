// Package cache stores computed analytics summaries in the counter store,
// keyed by a fingerprint of the query that produced them.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage"
)

const (
	keyPrefix   = "analytics"
	allApps     = "all"
	isoLayout   = "2006-01-02T15:04:05.000Z07:00"
	DefaultTTL  = time.Hour
	summaryType = "summary"
)

// ComputeTimeout bounds one shared compute in GetOrCompute
const ComputeTimeout = 30 * time.Second

// Fingerprint identifies one summary query
type Fingerprint struct {
	UserID string
	Event  string
	Start  time.Time
	End    time.Time
	AppID  string // empty means every app of the user
}

// Key renders analytics:{userId}:{event}:{startISO}:{endISO}:{appId|all}
func (f Fingerprint) Key() string {
	app := f.AppID
	if app == "" {
		app = allApps
	}
	return strings.Join([]string{
		keyPrefix,
		f.UserID,
		f.Event,
		f.Start.UTC().Format(isoLayout),
		f.End.UTC().Format(isoLayout),
		app,
	}, ":")
}

// Cache is a read-through cache over storage.CounterStore. Store failures are
// treated as misses so a degraded store never fails a query.
type Cache struct {
	store   storage.CounterStore
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
	group   singleflight.Group

	computeTimeout time.Duration
}

// New creates a cache. ttl <= 0 uses DefaultTTL.
func New(store storage.CounterStore, ttl time.Duration, metrics *observability.Metrics, logger *observability.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Cache{
		store:          store,
		ttl:            ttl,
		metrics:        metrics,
		logger:         logger.WithField("component", "cache"),
		computeTimeout: ComputeTimeout,
	}
}

// Get decodes a cached value into dest. A miss, a store error, or an
// undecodable entry all return false.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		c.metrics.CacheErrorsTotal.WithLabelValues(summaryType, "get").Inc()
		c.logger.WithError(err).WithField("key", key).Warn("cache read failed, treating as miss")
		c.metrics.CacheMissesTotal.WithLabelValues(summaryType).Inc()
		return false
	}
	if raw == nil {
		c.metrics.CacheMissesTotal.WithLabelValues(summaryType).Inc()
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("discarding undecodable cache entry")
		c.metrics.CacheMissesTotal.WithLabelValues(summaryType).Inc()
		return false
	}
	c.metrics.CacheHitsTotal.WithLabelValues(summaryType).Inc()
	return true
}

// Put stores value with the cache TTL. Failures are logged and swallowed.
func (c *Cache) Put(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Error("failed to encode cache entry")
		return
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.metrics.CacheErrorsTotal.WithLabelValues(summaryType, "set").Inc()
		c.logger.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}

// Delete removes one entry
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// InvalidatePattern removes every entry matching a glob
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int64, error) {
	return c.store.DeletePattern(ctx, pattern)
}

// InvalidateUser drops cached summaries for a user, optionally narrowed to one
// event and/or one app. User supplied parts are glob-escaped.
func (c *Cache) InvalidateUser(ctx context.Context, userID, event, appID string) (int64, error) {
	pattern := UserPattern(userID, event, appID)
	n, err := c.store.DeletePattern(ctx, pattern)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate %s: %w", pattern, err)
	}
	c.logger.WithFields(map[string]interface{}{"pattern": pattern, "deleted": n}).Debug("cache invalidated")
	return n, nil
}

// UserPattern builds the invalidation glob for InvalidateUser
func UserPattern(userID, event, appID string) string {
	eventPart := "*"
	if event != "" {
		eventPart = escapeGlob(event)
	}
	// start and end timestamps contain ':' so match them with one wildcard
	appPart := "*"
	if appID != "" {
		appPart = escapeGlob(appID)
	}
	return fmt.Sprintf("%s:%s:%s:*:%s", keyPrefix, escapeGlob(userID), eventPart, appPart)
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetOrCompute returns the cached value for key, or computes, stores and returns it.
// bypass skips the read, deletes the stale entry and refreshes it.
// Concurrent misses for the same key share one compute call. The shared call
// runs detached from any single caller's cancellation and is bounded by
// ComputeTimeout; each caller stops waiting when its own ctx is done.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, bypass bool, compute func(context.Context) (T, error)) (T, error) {
	var cached T
	flight := key
	if bypass {
		if err := c.Delete(ctx, key); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("failed to drop bypassed cache entry")
		}
		// a bypass must not join a read-through compute that may predate it
		flight = key + "#bypass"
	} else if c.Get(ctx, key, &cached) {
		return cached, nil
	}

	ch := c.group.DoChan(flight, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()
		result, err := compute(shared)
		if err != nil {
			return result, err
		}
		c.Put(shared, key, result)
		return result, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
