package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/contextkeys"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/middleware"
	"github.com/platinummonkey/tally/pkg/observability"
)

// AnalyticsHandlers provides event collection and query endpoints
type AnalyticsHandlers struct {
	collector Collector
	queries   AnalyticsQueries
	guards    Guards
}

// NewAnalyticsHandlers creates a new analytics handlers instance
func NewAnalyticsHandlers(collector Collector, queries AnalyticsQueries, guards Guards) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		collector: collector,
		queries:   queries,
		guards:    guards,
	}
}

// RegisterRoutes registers analytics API routes
func (h *AnalyticsHandlers) RegisterRoutes(r *mux.Router) {
	r.Handle("/analytics/collect", h.guards.Key(middleware.TierCollection, h.collect)).Methods("POST")
	r.Handle("/analytics/event-summary", h.guards.Key(middleware.TierAnalytics, h.eventSummary)).Methods("GET")
	r.Handle("/analytics/user-stats", h.guards.User(middleware.TierAnalytics, h.userStats)).Methods("GET")
	r.Handle("/analytics/cache", h.guards.User(middleware.TierDefault, h.invalidateCache)).Methods("DELETE")
}

// collectedEvent is the response body of a successful collect
type collectedEvent struct {
	EventID   string             `json:"eventId"`
	Event     string             `json:"event"`
	URL       string             `json:"url"`
	Timestamp time.Time          `json:"timestamp"`
	Metadata  analytics.Metadata `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// collect handles POST /analytics/collect
func (h *AnalyticsHandlers) collect(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.APIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "API key is required")
		return
	}

	event, err := h.collector.Ingest(r.Context(), key, r.Body, httputil.ClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteCreated(w, "Event recorded successfully", collectedEvent{
		EventID:   event.ID,
		Event:     event.Event,
		URL:       event.URL,
		Timestamp: event.Timestamp,
		Metadata:  event.Metadata,
		CreatedAt: event.CreatedAt,
	})
}

// eventSummary handles GET /analytics/event-summary
// Query params:
//   - event: event type (required)
//   - startDate, endDate: ISO 8601 range bounds
//   - app_id: narrow to one app owned by the key's user
//   - bypassCache: recompute and refresh the cached entry
func (h *AnalyticsHandlers) eventSummary(w http.ResponseWriter, r *http.Request) {
	key, ok := middleware.APIKeyFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "API key is required")
		return
	}

	bypass, err := httputil.ParseQueryBool(r, "bypassCache", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	summary, err := h.queries.EventSummary(r.Context(), analytics.SummaryRequest{
		UserID:      key.UserID,
		Event:       httputil.ParseQueryString(r, "event", ""),
		StartDate:   httputil.ParseQueryString(r, "startDate", ""),
		EndDate:     httputil.ParseQueryString(r, "endDate", ""),
		AppID:       httputil.ParseQueryString(r, "app_id", ""),
		BypassCache: bypass,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "Analytics summary retrieved successfully", summary)
}

// userStats handles GET /analytics/user-stats?userId=
func (h *AnalyticsHandlers) userStats(w http.ResponseWriter, r *http.Request) {
	ownerID := contextkeys.GetUserID(r.Context())

	stats, err := h.queries.UserStats(r.Context(), ownerID, httputil.ParseQueryString(r, "userId", ""))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, "User statistics retrieved successfully", stats)
}

// invalidateCache handles DELETE /analytics/cache. A store failure is logged
// and reported as nothing invalidated.
func (h *AnalyticsHandlers) invalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := contextkeys.GetUserID(ctx)
	event := httputil.ParseQueryString(r, "event", "")
	appID := httputil.ParseQueryString(r, "app_id", "")

	removed, err := h.queries.Invalidate(ctx, userID, event, appID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("cache invalidation failed")
		removed = 0
	}

	httputil.WriteSuccess(w, "Cache invalidated successfully", map[string]int64{"invalidated": removed})
}
