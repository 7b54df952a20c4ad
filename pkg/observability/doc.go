// Package observability carries the ambient runtime concerns shared by the
// tally binaries: JSON logging on log/slog, Prometheus metrics, OpenTelemetry
// tracing, dependency health checks and graceful shutdown.
//
// Logging:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).WithField("tier", "collection").Warn("rate limit store unavailable")
//
// Health:
//
//	checker := observability.NewHealthChecker().
//		AddCritical("postgres", observability.PingerFunc(db.PingContext)).
//		AddOptional("redis", store)
//	observability.RegisterHealthRoutes(mux, checker)
package observability
