package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tally/pkg/auth"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/middleware"
	"github.com/platinummonkey/tally/pkg/observability"
)

// BasePath prefixes every API route
const BasePath = "/api/v1"

// RouteRegistrar is implemented by each handler group
type RouteRegistrar interface {
	RegisterRoutes(r *mux.Router)
}

// Guards wraps handlers with authentication and a rate-limit tier.
// Authentication runs first so the limiter counts against the key or user.
type Guards struct {
	apiKey func(http.Handler) http.Handler
	user   func(http.Handler) http.Handler
	limits *middleware.RateLimitMiddleware
}

// NewGuards builds route guards. A nil limits disables rate limiting.
func NewGuards(keys middleware.KeyValidator, users middleware.UserAuthenticator, limits *middleware.RateLimitMiddleware) Guards {
	if limits == nil {
		limits = middleware.NewRateLimitMiddleware(nil, nil, false)
	}
	return Guards{
		apiKey: middleware.RequireAPIKey(keys),
		user:   middleware.RequireUser(users),
		limits: limits,
	}
}

// Key requires a valid x-api-key and applies tier
func (g Guards) Key(tier string, h http.HandlerFunc) http.Handler {
	return httputil.Chain(g.apiKey, g.limits.Tier(tier))(h)
}

// User requires a bearer token and applies tier
func (g Guards) User(tier string, h http.HandlerFunc) http.Handler {
	return httputil.Chain(g.user, g.limits.Tier(tier))(h)
}

// Options configures the server
type Options struct {
	Collector      Collector
	Analytics      AnalyticsQueries
	Apps           AppManager
	Keys           KeyManager
	KeyAuth        middleware.KeyValidator
	UserAuth       middleware.UserAuthenticator
	RateLimit      *middleware.RateLimitMiddleware
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	MaxBodyBytes   int64
	AllowedOrigins []string
	// TrustedProxies lists the peers whose X-Forwarded-For / X-Real-IP
	// headers are believed. Empty trusts none.
	TrustedProxies auth.IPAllowList
}

// Server represents the API server
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer creates the API server with every route registered
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewNopMetrics()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		router: mux.NewRouter(),
	}

	guards := NewGuards(opts.KeyAuth, opts.UserAuth, opts.RateLimit)
	s.setupRoutes(
		NewAnalyticsHandlers(opts.Collector, opts.Analytics, guards),
		NewAppHandlers(opts.Apps, guards),
		NewKeyHandlers(opts.Keys, guards),
	)
	s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "Route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.ClientIPMiddleware(opts.TrustedProxies.Trusts),
		httputil.LoggingMiddleware(opts.Logger),
		httputil.RecoveryMiddleware(opts.Logger),
		httputil.CORSMiddleware(opts.AllowedOrigins),
		httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
	)(otelhttp.NewHandler(s.router, "tally-api"))

	return s
}

// setupRoutes mounts each handler group under BasePath
func (s *Server) setupRoutes(groups ...RouteRegistrar) {
	v1 := s.router.PathPrefix(BasePath).Subrouter()
	for _, g := range groups {
		g.RegisterRoutes(v1)
	}
}

// Router exposes the route table
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
