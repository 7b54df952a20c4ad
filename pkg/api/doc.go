// Package api provides the HTTP API for tally.
//
// Routes live under /api/v1 and are grouped into handler types that each
// implement RouteRegistrar:
//
//   - AnalyticsHandlers: event collection (x-api-key), event summaries,
//     tracking-user stats and cache invalidation
//   - AppHandlers: app registration and management (bearer token)
//   - KeyHandlers: listing and revoking a user's API keys (bearer token)
//
// Every response uses the {status, message, data} envelope from httputil.
// Service errors are mapped to status codes in one place, writeError; errors
// it does not recognise are logged and returned as a generic 500.
//
// # Usage
//
//	srv := api.NewServer(api.Options{
//		Collector: ingestor,
//		Analytics: analyticsService,
//		Apps:      appService,
//		Keys:      keyService,
//		KeyAuth:   keyService,
//		UserAuth:  oidcAuthenticator,
//		RateLimit: limits,
//		Logger:    logger,
//	})
//	http.ListenAndServe(":8080", srv)
package api
