package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/cache"
	"github.com/platinummonkey/tally/pkg/storage/redisstore"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	engine, mock, _ := newTestEngine(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := NewService(engine, cache.New(redisstore.New(client), time.Hour, nil, nil), 7)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }
	return svc, mock, mr
}

func summaryRequest() SummaryRequest {
	return SummaryRequest{UserID: "user-a", Event: "click", StartDate: "2024-03-01", EndDate: "2024-03-01"}
}

func TestService_EventSummary_CachesResult(t *testing.T) {
	svc, mock, mr := newTestService(t)
	ctx := context.Background()

	expectSummaryQueries(mock, []string{"key-1", "key-2"}, 3, 2,
		sqlmock.NewRows([]string{"device_class", "count"}).AddRow("mobile", 2).AddRow("desktop", 1))

	first, err := svc.EventSummary(ctx, summaryRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(3), first.Count)
	assert.Equal(t, int64(2), first.UniqueUsers)
	require.NoError(t, mock.ExpectationsWereMet())

	key := "analytics:user-a:click:2024-03-01T00:00:00.000Z:2024-03-01T23:59:59.999Z:all"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	// served from cache: no further queries expected
	second, err := svc.EventSummary(ctx, summaryRequest())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestService_EventSummary_BypassRefreshes(t *testing.T) {
	svc, mock, _ := newTestService(t)
	ctx := context.Background()

	expectSummaryQueries(mock, []string{"key-1", "key-2"}, 3, 2,
		sqlmock.NewRows([]string{"device_class", "count"}).AddRow("mobile", 3))
	_, err := svc.EventSummary(ctx, summaryRequest())
	require.NoError(t, err)

	expectSummaryQueries(mock, []string{"key-1", "key-2"}, 4, 2,
		sqlmock.NewRows([]string{"device_class", "count"}).AddRow("mobile", 4))
	req := summaryRequest()
	req.BypassCache = true
	fresh, err := svc.EventSummary(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(4), fresh.Count)

	// the refreshed value replaced the stale one
	cached, err := svc.EventSummary(ctx, summaryRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(4), cached.Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_EventSummary_BypassIsIdempotent(t *testing.T) {
	svc, mock, _ := newTestService(t)
	req := summaryRequest()
	req.BypassCache = true

	var results []*Summary
	for i := 0; i < 2; i++ {
		expectSummaryQueries(mock, []string{"key-1", "key-2"}, 3, 2,
			sqlmock.NewRows([]string{"device_class", "count"}).AddRow("desktop", 3))
		s, err := svc.EventSummary(context.Background(), req)
		require.NoError(t, err)
		results = append(results, s)
	}
	assert.Equal(t, results[0], results[1])
}

func TestService_EventSummary_Errors(t *testing.T) {
	svc, _, mr := newTestService(t)
	ctx := context.Background()

	_, err := svc.EventSummary(ctx, SummaryRequest{UserID: "user-a"})
	assert.ErrorIs(t, err, ErrEventRequired)

	_, err = svc.EventSummary(ctx, SummaryRequest{UserID: "user-a", Event: "click", StartDate: "nope"})
	assert.ErrorIs(t, err, ErrInvalidStartDate)

	req := summaryRequest()
	req.AppID = foreignAppID
	_, err = svc.EventSummary(ctx, req)
	assert.ErrorIs(t, err, ErrAppNotOwned)
	assert.Empty(t, mr.Keys(), "failed queries are not cached")
}

func TestService_Invalidate(t *testing.T) {
	svc, mock, mr := newTestService(t)
	ctx := context.Background()

	expectSummaryQueries(mock, []string{"key-1", "key-2"}, 1, 1,
		sqlmock.NewRows([]string{"device_class", "count"}))
	_, err := svc.EventSummary(ctx, summaryRequest())
	require.NoError(t, err)
	require.Len(t, mr.Keys(), 1)

	n, err := svc.Invalidate(ctx, "user-b", "", "")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.Invalidate(ctx, "user-a", "click", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, mr.Keys())
}

func TestService_UserStats(t *testing.T) {
	svc, mock, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UserStats(ctx, "user-a", "  ")
	assert.ErrorIs(t, err, ErrTrackingUserRequired)

	_, err = svc.UserStats(ctx, "user-c", "u1")
	assert.ErrorIs(t, err, ErrNoCredentials)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events WHERE api_key_id = ANY\(\$1\) AND tracking_user_id = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	_, err = svc.UserStats(ctx, "user-a", "u1")
	assert.ErrorIs(t, err, ErrTrackingUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_WithoutCache(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	svc := NewService(engine, nil, 0)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC) }

	expectSummaryQueries(mock, []string{"key-1", "key-2"}, 1, 0, sqlmock.NewRows([]string{"device_class", "count"}))
	_, err := svc.EventSummary(context.Background(), summaryRequest())
	require.NoError(t, err)

	n, err := svc.Invalidate(context.Background(), "user-a", "", "")
	require.NoError(t, err)
	assert.Zero(t, n)
}
