// Package middleware provides request authentication and rate limiting.
//
// RequireAPIKey validates the x-api-key header of analytics clients;
// RequireUser authenticates dashboard users from a bearer ID token.
//
// RateLimitMiddleware enforces fixed-window limits per tier, counted in Redis
// against the API key, the user, or the client address:
//
//	limiter := middleware.NewFixedWindowLimiter(redisClient, middleware.WithStoreTimeout(500*time.Millisecond))
//	rl := middleware.NewRateLimitMiddleware(limiter, middleware.TiersFromConfig(cfg.RateLimit.Tiers), true)
//	router.Handle("/analytics/collect", rl.Tier(middleware.TierCollection)(collectHandler))
//
// The limiter fails open: when Redis is slow or down the request is admitted.
package middleware
