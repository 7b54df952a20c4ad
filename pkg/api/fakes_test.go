package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/apps"
	"github.com/platinummonkey/tally/pkg/auth"
)

const (
	goodKey    = "tly_goodkey"
	goodBearer = "Bearer good-token"
	ownerID    = "user-1"
	testAppID  = "3f1c2b8e-8a4d-4c1e-9a57-0b6f2f1d9e10"
)

type fakeKeyValidator struct{}

func (fakeKeyValidator) Validate(_ context.Context, rawKey, _ string) (*auth.APIKey, error) {
	switch rawKey {
	case "":
		return nil, auth.ErrAPIKeyRequired
	case goodKey:
		return &auth.APIKey{ID: "key-1", UserID: ownerID, AppID: testAppID, IsActive: true}, nil
	}
	return nil, auth.ErrInvalidAPIKey
}

type fakeUsers struct{}

func (fakeUsers) Authenticate(_ context.Context, authorization string) (string, error) {
	if authorization == goodBearer {
		return ownerID, nil
	}
	return "", auth.ErrUnauthenticated
}

type fakeCollector struct {
	gotKey  *auth.APIKey
	gotIP   string
	gotBody string
	err     error
}

func (f *fakeCollector) Ingest(_ context.Context, key *auth.APIKey, body io.Reader, clientIP string) (*analytics.Event, error) {
	raw, _ := io.ReadAll(body)
	f.gotKey, f.gotIP, f.gotBody = key, clientIP, string(raw)
	if f.err != nil {
		return nil, f.err
	}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &analytics.Event{
		ID:        "evt-1",
		APIKeyID:  key.ID,
		Event:     "click",
		URL:       "https://example.com",
		Timestamp: ts,
		Metadata:  analytics.Metadata{"browser": "Chrome"},
		CreatedAt: ts,
	}, nil
}

type fakeQueries struct {
	summaryReq    analytics.SummaryRequest
	summaryErr    error
	statsOwner    string
	statsUser     string
	statsErr      error
	invalidated   []string
	invalidateErr error
}

func (f *fakeQueries) EventSummary(_ context.Context, req analytics.SummaryRequest) (*analytics.Summary, error) {
	f.summaryReq = req
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	return &analytics.Summary{
		Event:       req.Event,
		Count:       3,
		UniqueUsers: 2,
		DeviceData:  map[string]int64{"mobile": 1, "desktop": 2},
	}, nil
}

func (f *fakeQueries) UserStats(_ context.Context, ownerUserID, trackingUserID string) (*analytics.UserStats, error) {
	f.statsOwner, f.statsUser = ownerUserID, trackingUserID
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &analytics.UserStats{UserID: trackingUserID, TotalEvents: 4}, nil
}

func (f *fakeQueries) Invalidate(_ context.Context, userID, event, appID string) (int64, error) {
	f.invalidated = append(f.invalidated, userID+"/"+event+"/"+appID)
	if f.invalidateErr != nil {
		return 0, f.invalidateErr
	}
	return 2, nil
}

type fakeApps struct {
	apps map[string]*apps.App
	key  *auth.APIKey
}

func newFakeApps() *fakeApps {
	return &fakeApps{
		apps: map[string]*apps.App{
			testAppID: {ID: testAppID, UserID: ownerID, Name: "Shop", IsActive: true},
		},
		key: &auth.APIKey{ID: "key-1", UserID: ownerID, AppID: testAppID, KeyPrefix: "tly_abcd", IsActive: true},
	}
}

func (f *fakeApps) owned(appID, userID string) (*apps.App, error) {
	if err := apps.ValidateAppID(appID); err != nil {
		return nil, err
	}
	app, ok := f.apps[appID]
	if !ok || app.UserID != userID {
		return nil, apps.ErrAppNotFound
	}
	return app, nil
}

func (f *fakeApps) Register(_ context.Context, userID string, req apps.CreateAppRequest) (*apps.Registration, error) {
	app := &apps.App{ID: "new-app", UserID: userID, Name: req.AppName, IsActive: true}
	return &apps.Registration{
		App:    app,
		APIKey: &auth.IssuedKey{APIKey: &auth.APIKey{ID: "key-2", AppID: app.ID}, Key: "tly_secret"},
	}, nil
}

func (f *fakeApps) List(_ context.Context, userID string) ([]*apps.App, error) {
	out := []*apps.App{}
	for _, a := range f.apps {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeApps) Get(_ context.Context, appID, userID string) (*apps.App, error) {
	return f.owned(appID, userID)
}

func (f *fakeApps) Update(_ context.Context, appID, userID string, req apps.UpdateAppRequest) (*apps.App, error) {
	app, err := f.owned(appID, userID)
	if err != nil {
		return nil, err
	}
	if req.AppName != nil {
		app.Name = *req.AppName
	}
	return app, nil
}

func (f *fakeApps) Deactivate(_ context.Context, appID, userID string) error {
	app, err := f.owned(appID, userID)
	if err != nil {
		return err
	}
	app.IsActive = false
	return nil
}

func (f *fakeApps) APIKey(_ context.Context, appID, userID string) (*auth.APIKey, error) {
	if _, err := f.owned(appID, userID); err != nil {
		return nil, err
	}
	return f.key, nil
}

func (f *fakeApps) RevokeKey(ctx context.Context, appID, userID string) (*auth.APIKey, error) {
	key, err := f.APIKey(ctx, appID, userID)
	if err != nil {
		return nil, err
	}
	key.IsActive = false
	return key, nil
}

func (f *fakeApps) RegenerateKey(_ context.Context, appID, userID string) (*auth.IssuedKey, error) {
	app, err := f.owned(appID, userID)
	if err != nil {
		return nil, err
	}
	if !app.IsActive {
		return nil, apps.ErrAppInactive
	}
	return &auth.IssuedKey{APIKey: f.key, Key: "tly_rotated"}, nil
}

type fakeKeys struct {
	revoked []string
}

func (f *fakeKeys) ListForUser(_ context.Context, userID string) ([]*auth.APIKey, error) {
	return []*auth.APIKey{{ID: "key-1", UserID: userID, AppID: testAppID}}, nil
}

func (f *fakeKeys) Revoke(_ context.Context, keyID, userID string) error {
	switch keyID {
	case "key-1":
		f.revoked = append(f.revoked, keyID)
		return nil
	case "foreign":
		return auth.ErrNotKeyOwner
	}
	return auth.ErrAPIKeyNotFound
}

type testServer struct {
	*Server
	collector *fakeCollector
	queries   *fakeQueries
	apps      *fakeApps
	keys      *fakeKeys
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		collector: &fakeCollector{},
		queries:   &fakeQueries{},
		apps:      newFakeApps(),
		keys:      &fakeKeys{},
	}
	// httptest requests arrive from 192.0.2.1
	proxies, err := auth.ParseIPAllowList([]string{"192.0.2.0/24"})
	require.NoError(t, err)
	ts.Server = NewServer(Options{
		Collector:      ts.collector,
		Analytics:      ts.queries,
		Apps:           ts.apps,
		Keys:           ts.keys,
		KeyAuth:        fakeKeyValidator{},
		UserAuth:       fakeUsers{},
		AllowedOrigins: []string{"*"},
		TrustedProxies: proxies,
	})
	return ts
}

func (ts *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	ts.ServeHTTP(rr, req)
	return rr
}

func withKey() map[string]string    { return map[string]string{"x-api-key": goodKey} }
func withBearer() map[string]string { return map[string]string{"Authorization": goodBearer} }

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env
}

var _ http.Handler = (*Server)(nil)
