//go:build integration

package analytics

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/storage/postgres"
)

func seedKey(t *testing.T, db *sql.DB) string {
	t.Helper()
	userID, appID, keyID := uuid.NewString(), uuid.NewString(), uuid.NewString()

	_, err := db.Exec(`INSERT INTO users (id, email) VALUES ($1, $2)`, userID, userID+"@example.com")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO apps (id, user_id, name, url) VALUES ($1, $2, 'site', 'https://example.com')`, appID, userID)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO api_keys (id, user_id, app_id, key_hash, key_prefix, expires_at)
		VALUES ($1, $2, $3, $4, 'tly_abcd', $5)`,
		keyID, userID, appID, hashFor(keyID), time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	return keyID
}

// hashFor returns a unique 64-char value for the key_hash column
func hashFor(id string) string {
	h := ""
	for len(h) < 64 {
		h += uuid.NewSHA1(uuid.NameSpaceOID, []byte(id+h)).String()
	}
	return h[:64]
}

func TestRepository_SummaryQueries(t *testing.T) {
	db := postgres.SetupTestDatabase(t)
	repo := NewRepository(db)
	rollup := NewRollup(db)
	ctx := context.Background()
	keyID := seedKey(t, db)

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	events := []struct {
		user, device string
	}{
		{"visitor-1", "mobile"},
		{"visitor-1", "Desktop"},
		{"visitor-2", "mobile"},
		{"visitor-2", "MOBILE"},
		{"visitor-3", "tablet"},
		{"", ""}, // anonymous, no device: both columns stored as NULL
	}
	for i, e := range events {
		require.NoError(t, repo.Insert(ctx, &Event{
			ID:             uuid.NewString(),
			APIKeyID:       keyID,
			Event:          "click",
			URL:            "https://example.com",
			Device:         e.device,
			Timestamp:      day.Add(time.Duration(i+9) * time.Hour),
			TrackingUserID: e.user,
			Metadata:       Metadata{MetaBrowser: "firefox"},
			CreatedAt:      time.Now().UTC(),
		}))
	}

	rng := DayRange(day)
	keys := []string{keyID}

	count, err := repo.CountEvents(ctx, keys, "click", rng)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)

	unique, err := repo.CountUniqueUsers(ctx, keys, "click", rng)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unique, "NULL tracking ids are not users")

	// case-insensitive match; tablet and NULL devices are left out
	devices, err := repo.DeviceBreakdown(ctx, keys, "click", rng)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{DeviceMobile: 3, DeviceDesktop: 1}, devices)

	latest, err := repo.LatestUserEvent(ctx, keys, "visitor-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "Desktop", latest.Device)

	rows, err := rollup.RollupDay(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	var total, users int64
	require.NoError(t, db.QueryRow(`SELECT total_count, unique_users FROM event_summaries
		WHERE api_key_id = $1 AND event = 'click' AND date = $2`, keyID, day).Scan(&total, &users))
	assert.Equal(t, int64(6), total)
	assert.Equal(t, int64(3), users)

	// rerunning the rollup upserts the same row
	_, err = rollup.RollupDay(ctx, day)
	require.NoError(t, err)
	var summaries int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM event_summaries WHERE api_key_id = $1`, keyID).Scan(&summaries))
	assert.Equal(t, 1, summaries)

	var exported int
	require.NoError(t, repo.EachEventOfDay(ctx, day, func(*Event) error {
		exported++
		return nil
	}))
	assert.Equal(t, 6, exported)
}
