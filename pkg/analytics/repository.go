package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/tally/pkg/auth"
)

// Repository reads and writes the events table
type Repository struct {
	db auth.Querier
}

// NewRepository creates an event repository
func NewRepository(db auth.Querier) *Repository {
	return &Repository{db: db}
}

// Insert writes one event row
func (r *Repository) Insert(ctx context.Context, e *Event) error {
	metadata, err := e.metadataJSON()
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO events (
			id, api_key_id, event, url, referrer, device, ip_address, timestamp,
			tracking_user_id, session_id, page_title, page_load_time, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.APIKeyID, e.Event, e.URL, nullString(e.Referrer), nullString(e.Device),
		nullString(e.IPAddress), e.Timestamp, nullString(e.TrackingUserID), nullString(e.SessionID),
		nullString(e.PageTitle), e.PageLoadTime, metadata, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

const eventScope = `api_key_id = ANY($1) AND event = $2 AND timestamp BETWEEN $3 AND $4 AND deleted_at IS NULL`

// CountEvents counts events of one type in a range
func (r *Repository) CountEvents(ctx context.Context, keyIDs []string, event string, rng DateRange) (int64, error) {
	query := `SELECT COUNT(*) FROM events WHERE ` + eventScope
	var n int64
	if err := r.db.QueryRowContext(ctx, query, pq.Array(keyIDs), event, rng.Start, rng.End).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// CountUniqueUsers counts distinct non-null tracking user ids
func (r *Repository) CountUniqueUsers(ctx context.Context, keyIDs []string, event string, rng DateRange) (int64, error) {
	query := `SELECT COUNT(DISTINCT tracking_user_id) FROM events WHERE ` + eventScope + ` AND tracking_user_id IS NOT NULL`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, pq.Array(keyIDs), event, rng.Start, rng.End).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unique users: %w", err)
	}
	return n, nil
}

// DeviceBreakdown counts events per device class. Only mobile and desktop are
// reported; the comparison ignores case.
func (r *Repository) DeviceBreakdown(ctx context.Context, keyIDs []string, event string, rng DateRange) (map[string]int64, error) {
	query := `SELECT LOWER(device) AS device_class, COUNT(*) FROM events
		WHERE ` + eventScope + ` AND LOWER(device) IN ('mobile', 'desktop')
		GROUP BY LOWER(device)`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(keyIDs), event, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("failed to group devices: %w", err)
	}
	defer rows.Close()

	breakdown := map[string]int64{DeviceMobile: 0, DeviceDesktop: 0}
	for rows.Next() {
		var device string
		var n int64
		if err := rows.Scan(&device, &n); err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		if _, ok := breakdown[device]; ok {
			breakdown[device] += n
		}
	}
	return breakdown, rows.Err()
}

const userScope = `api_key_id = ANY($1) AND tracking_user_id = $2 AND deleted_at IS NULL`

// CountUserEvents counts every event of a tracking user
func (r *Repository) CountUserEvents(ctx context.Context, keyIDs []string, trackingUserID string) (int64, error) {
	query := `SELECT COUNT(*) FROM events WHERE ` + userScope
	var n int64
	if err := r.db.QueryRowContext(ctx, query, pq.Array(keyIDs), trackingUserID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count user events: %w", err)
	}
	return n, nil
}

// LatestUserEvent returns the most recent event of a tracking user, nil when there is none
func (r *Repository) LatestUserEvent(ctx context.Context, keyIDs []string, trackingUserID string) (*Event, error) {
	query := `SELECT event, COALESCE(device, ''), COALESCE(ip_address, ''), timestamp, metadata
		FROM events WHERE ` + userScope + `
		ORDER BY timestamp DESC LIMIT 1`

	e := &Event{TrackingUserID: trackingUserID}
	var metadata []byte
	err := r.db.QueryRowContext(ctx, query, pq.Array(keyIDs), trackingUserID).
		Scan(&e.Event, &e.Device, &e.IPAddress, &e.Timestamp, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest event: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return e, nil
}

// TopUserEvents returns a tracking user's most frequent event types, most frequent first
func (r *Repository) TopUserEvents(ctx context.Context, keyIDs []string, trackingUserID string, limit int) ([]EventCount, error) {
	query := `SELECT event, COUNT(*) AS event_count FROM events WHERE ` + userScope + `
		GROUP BY event ORDER BY event_count DESC LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(keyIDs), trackingUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list top events: %w", err)
	}
	defer rows.Close()

	top := make([]EventCount, 0, limit)
	for rows.Next() {
		var ec EventCount
		if err := rows.Scan(&ec.Event, &ec.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top event: %w", err)
		}
		top = append(top, ec)
	}
	return top, rows.Err()
}

// EachEventOfDay streams every event of one UTC day in timestamp order
func (r *Repository) EachEventOfDay(ctx context.Context, day time.Time, fn func(*Event) error) error {
	rng := DayRange(day)
	query := `
		SELECT id, api_key_id, event, url, COALESCE(referrer, ''), COALESCE(device, ''),
		       COALESCE(ip_address, ''), timestamp, COALESCE(tracking_user_id, ''),
		       COALESCE(session_id, ''), COALESCE(page_title, ''), page_load_time, metadata, created_at
		FROM events
		WHERE timestamp BETWEEN $1 AND $2 AND deleted_at IS NULL
		ORDER BY timestamp ASC
	`
	rows, err := r.db.QueryContext(ctx, query, rng.Start, rng.End)
	if err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e := &Event{}
		var loadTime sql.NullInt64
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.APIKeyID, &e.Event, &e.URL, &e.Referrer, &e.Device,
			&e.IPAddress, &e.Timestamp, &e.TrackingUserID, &e.SessionID, &e.PageTitle,
			&loadTime, &metadata, &e.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan event: %w", err)
		}
		if loadTime.Valid {
			e.PageLoadTime = &loadTime.Int64
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return fmt.Errorf("failed to decode metadata of event %s: %w", e.ID, err)
			}
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
