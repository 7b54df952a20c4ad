package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/tally/pkg/storage"
)

// DefaultCounterTTL is how long rolling counters live in the counter store
const DefaultCounterTTL = 7 * 24 * time.Hour

// RollingCounters keeps per-day event counts and unique visitor sets in the
// counter store. They are a best-effort hint and never feed Summarize.
type RollingCounters struct {
	store storage.CounterStore
	ttl   time.Duration
	now   func() time.Time
}

// NewRollingCounters creates rolling counters. ttl <= 0 uses DefaultCounterTTL.
func NewRollingCounters(store storage.CounterStore, ttl time.Duration) *RollingCounters {
	if ttl <= 0 {
		ttl = DefaultCounterTTL
	}
	return &RollingCounters{store: store, ttl: ttl, now: time.Now}
}

// CountKey is count:{appId}:{event}:{YYYY-MM-DD}
func CountKey(appID, event, day string) string {
	return fmt.Sprintf("count:%s:%s:%s", appID, event, day)
}

// UniqueKey is unique:{appId}:{YYYY-MM-DD}
func UniqueKey(appID, day string) string {
	return fmt.Sprintf("unique:%s:%s", appID, day)
}

// Today is the current UTC day in counter key format
func (c *RollingCounters) Today() string {
	return c.now().UTC().Format(dayLayout)
}

// Record increments today's event counter and, when trackingUserID is set,
// adds it to today's visitor set
func (c *RollingCounters) Record(ctx context.Context, appID, event, trackingUserID string) error {
	day := c.Today()
	if _, err := c.store.IncrByWithTTL(ctx, CountKey(appID, event, day), 1, c.ttl); err != nil {
		return fmt.Errorf("failed to increment event counter: %w", err)
	}
	if trackingUserID == "" {
		return nil
	}
	if err := c.store.AddToSetWithTTL(ctx, UniqueKey(appID, day), c.ttl, trackingUserID); err != nil {
		return fmt.Errorf("failed to track unique visitor: %w", err)
	}
	return nil
}

// EventCount returns the counter for an event type on day (YYYY-MM-DD)
func (c *RollingCounters) EventCount(ctx context.Context, appID, event, day string) (int64, error) {
	return c.store.GetInt(ctx, CountKey(appID, event, day))
}

// UniqueVisitors returns the size of the visitor set for day
func (c *RollingCounters) UniqueVisitors(ctx context.Context, appID, day string) (int64, error) {
	return c.store.SetSize(ctx, UniqueKey(appID, day))
}
