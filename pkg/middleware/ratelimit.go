package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tally/pkg/config"
	"github.com/platinummonkey/tally/pkg/contextkeys"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/observability"
)

// Tier names used by the API routes
const (
	TierDefault    = "default"
	TierCollection = "collection"
	TierAnalytics  = "analytics"
)

const (
	decisionAllowed  = "allowed"
	decisionRejected = "rejected"
	decisionFailOpen = "fail_open"

	// windowExpiryBuffer keeps a window key alive a little past the window itself
	windowExpiryBuffer = 10 * time.Second
)

// Tier is one fixed-window limit
type Tier struct {
	Name        string
	MaxRequests int
	Window      time.Duration
	Message     string
}

// TiersFromConfig converts configured tiers, keyed by name
func TiersFromConfig(cfg map[string]config.TierConfig) map[string]Tier {
	tiers := make(map[string]Tier, len(cfg))
	for name, tc := range cfg {
		tiers[name] = Tier{
			Name:        name,
			MaxRequests: tc.MaxRequests,
			Window:      tc.Window,
			Message:     tc.Message,
		}
	}
	return tiers
}

// Decision is the outcome of one admission check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// FailOpen is set when the store could not be consulted and the request was admitted anyway
	FailOpen bool
}

// fixedWindowScript reads the window, rolls it over when elapsed, and increments
// the count when under the limit, all in one round trip so concurrent requests
// cannot lose an increment. Returns {admitted, windowStart, requestCount}.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local start = tonumber(redis.call('HGET', key, 'windowStart'))
local count = tonumber(redis.call('HGET', key, 'requestCount'))
if start == nil or count == nil or now > start + window then
	start = now
	count = 0
end

if count >= limit then
	return {0, start, count}
end

count = count + 1
redis.call('HSET', key, 'windowStart', start, 'requestCount', count)
redis.call('EXPIRE', key, ttl)
return {1, start, count}
`)

// FixedWindowLimiter counts requests per (tier, identifier) in Redis hashes
// named ratelimit:{tier}:{identifier}
type FixedWindowLimiter struct {
	client  redis.UniversalClient
	timeout time.Duration
	now     func() time.Time
	metrics *observability.Metrics
}

// LimiterOption configures a FixedWindowLimiter
type LimiterOption func(*FixedWindowLimiter)

// WithStoreTimeout bounds each admission check
func WithStoreTimeout(d time.Duration) LimiterOption {
	return func(l *FixedWindowLimiter) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLimiterMetrics records decisions
func WithLimiterMetrics(m *observability.Metrics) LimiterOption {
	return func(l *FixedWindowLimiter) { l.metrics = m }
}

// WithLimiterClock overrides the time source
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *FixedWindowLimiter) { l.now = now }
}

// NewFixedWindowLimiter creates a Redis-backed fixed-window limiter
func NewFixedWindowLimiter(client redis.UniversalClient, opts ...LimiterOption) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		client:  client,
		timeout: 500 * time.Millisecond,
		now:     time.Now,
		metrics: observability.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WindowKey returns the store key for a tier and identifier
func WindowKey(tier, identifier string) string {
	return fmt.Sprintf("ratelimit:%s:%s", tier, identifier)
}

// Admit decides whether a request from identifier fits in tier's current window.
// A store failure admits the request and returns the error alongside a FailOpen decision.
func (l *FixedWindowLimiter) Admit(ctx context.Context, tier Tier, identifier string) (Decision, error) {
	now := l.now()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ttl := int64((tier.Window + windowExpiryBuffer) / time.Second)
	res, err := fixedWindowScript.Run(ctx, l.client,
		[]string{WindowKey(tier.Name, identifier)},
		now.UnixMilli(), tier.Window.Milliseconds(), tier.MaxRequests, ttl,
	).Slice()
	if err == nil && len(res) != 3 {
		err = fmt.Errorf("unexpected script reply length %d", len(res))
	}
	if err != nil {
		l.metrics.RateLimitDecisionsTotal.WithLabelValues(tier.Name, decisionFailOpen).Inc()
		return Decision{Allowed: true, Limit: tier.MaxRequests, Remaining: tier.MaxRequests, FailOpen: true},
			fmt.Errorf("rate limit check failed: %w", err)
	}

	admitted, _ := res[0].(int64)
	windowStart, _ := res[1].(int64)
	count, _ := res[2].(int64)

	resetAt := time.UnixMilli(windowStart).Add(tier.Window)
	d := Decision{
		Allowed: admitted == 1,
		Limit:   tier.MaxRequests,
		ResetAt: resetAt,
	}

	if d.Allowed {
		d.Remaining = tier.MaxRequests - int(count)
		l.metrics.RateLimitDecisionsTotal.WithLabelValues(tier.Name, decisionAllowed).Inc()
		return d, nil
	}

	d.RetryAfter = retryAfter(resetAt.Sub(now))
	l.metrics.RateLimitDecisionsTotal.WithLabelValues(tier.Name, decisionRejected).Inc()
	return d, nil
}

// retryAfter rounds up to whole seconds and never goes below one
func retryAfter(untilReset time.Duration) time.Duration {
	secs := math.Ceil(untilReset.Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// RateLimitMiddleware applies a named tier to a route
type RateLimitMiddleware struct {
	limiter *FixedWindowLimiter
	tiers   map[string]Tier
	enabled bool
}

// NewRateLimitMiddleware creates the rate limit middleware. A nil limiter or
// enabled=false turns every tier into a pass-through.
func NewRateLimitMiddleware(limiter *FixedWindowLimiter, tiers map[string]Tier, enabled bool) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		tiers:   tiers,
		enabled: enabled && limiter != nil,
	}
}

// Tier returns the middleware for the named tier, falling back to the default tier
func (m *RateLimitMiddleware) Tier(name string) func(http.Handler) http.Handler {
	tier, ok := m.tiers[name]
	if !ok {
		tier = m.tiers[TierDefault]
	}
	if tier.Name == "" {
		tier.Name = name
	}

	return func(next http.Handler) http.Handler {
		if !m.enabled || tier.MaxRequests <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			decision, err := m.limiter.Admit(ctx, tier, ClientIdentifier(r))
			if err != nil {
				observability.FromContext(ctx).WithError(err).WithField("tier", tier.Name).
					Warn("rate limiter unavailable, admitting request")
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, decision)
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter/time.Second)))
				httputil.WriteTooManyRequests(w, tier.Message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// ClientIdentifier picks who a request is counted against: the API key, then the
// authenticated user, then the client address
func ClientIdentifier(r *http.Request) string {
	ctx := r.Context()
	if key, ok := APIKeyFromContext(ctx); ok && key.ID != "" {
		return key.ID
	}
	if userID := contextkeys.GetUserID(ctx); userID != "" {
		return userID
	}
	if ip := httputil.ClientIP(r); ip != "" {
		return ip
	}
	return "unknown"
}
