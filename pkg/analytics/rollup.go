package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tally/pkg/auth"
)

// Rollup materialises per key, event and day totals into event_summaries
type Rollup struct {
	db auth.Querier
}

// NewRollup creates a rollup writer
func NewRollup(db auth.Querier) *Rollup {
	return &Rollup{db: db}
}

// breakdown renders a CTE that folds COUNT(*) per expr into one JSON object per (api_key_id, event)
func breakdown(name, expr string) string {
	return fmt.Sprintf(`%s AS (
		SELECT api_key_id, event, jsonb_object_agg(bucket, n) AS data
		FROM (
			SELECT api_key_id, event, %s AS bucket, COUNT(*) AS n
			FROM day_events
			WHERE %s IS NOT NULL
			GROUP BY api_key_id, event, bucket
		) b
		GROUP BY api_key_id, event
	)`, name, expr, expr)
}

var rollupQuery = `
	WITH day_events AS (
		SELECT api_key_id, event, device, referrer, metadata, timestamp, tracking_user_id
		FROM events
		WHERE timestamp BETWEEN $1 AND $2 AND deleted_at IS NULL
	),
	totals AS (
		SELECT api_key_id, event, COUNT(*) AS total_count, COUNT(DISTINCT tracking_user_id) AS unique_users
		FROM day_events
		GROUP BY api_key_id, event
	),
	` + strings.Join([]string{
	breakdown("devices", "LOWER(device)"),
	breakdown("browsers", "metadata->>'browser'"),
	breakdown("oses", "metadata->>'os'"),
	breakdown("hours", "EXTRACT(HOUR FROM timestamp)::int::text"),
	breakdown("referrers", "referrer"),
}, ",\n\t") + `
	INSERT INTO event_summaries (
		id, api_key_id, event, date, total_count, unique_users,
		device_data, browser_data, os_data, hourly_distribution, referrer_data,
		cache_key, created_at, updated_at
	)
	SELECT
		gen_random_uuid(), t.api_key_id, t.event, $3::text::date, t.total_count, t.unique_users,
		COALESCE(d.data, '{}'), COALESCE(b.data, '{}'), COALESCE(o.data, '{}'),
		COALESCE(h.data, '{}'), COALESCE(r.data, '{}'),
		'summary:' || t.api_key_id || ':' || t.event || ':' || $3, NOW(), NOW()
	FROM totals t
	LEFT JOIN devices d ON d.api_key_id = t.api_key_id AND d.event = t.event
	LEFT JOIN browsers b ON b.api_key_id = t.api_key_id AND b.event = t.event
	LEFT JOIN oses o ON o.api_key_id = t.api_key_id AND o.event = t.event
	LEFT JOIN hours h ON h.api_key_id = t.api_key_id AND h.event = t.event
	LEFT JOIN referrers r ON r.api_key_id = t.api_key_id AND r.event = t.event
	ON CONFLICT (api_key_id, event, date) DO UPDATE SET
		total_count = EXCLUDED.total_count,
		unique_users = EXCLUDED.unique_users,
		device_data = EXCLUDED.device_data,
		browser_data = EXCLUDED.browser_data,
		os_data = EXCLUDED.os_data,
		hourly_distribution = EXCLUDED.hourly_distribution,
		referrer_data = EXCLUDED.referrer_data,
		updated_at = NOW()
`

// RollupDay recomputes the summaries of one UTC day and returns how many rows were written.
// Running it twice for the same day is safe.
func (r *Rollup) RollupDay(ctx context.Context, day time.Time) (int64, error) {
	rng := DayRange(day)
	res, err := r.db.ExecContext(ctx, rollupQuery, rng.Start, rng.End, rng.Start.Format(dayLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to roll up %s: %w", rng.Start.Format(dayLayout), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rollup result: %w", err)
	}
	return n, nil
}
