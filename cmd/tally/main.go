package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/api"
	"github.com/platinummonkey/tally/pkg/apps"
	"github.com/platinummonkey/tally/pkg/async"
	"github.com/platinummonkey/tally/pkg/auth"
	"github.com/platinummonkey/tally/pkg/cache"
	"github.com/platinummonkey/tally/pkg/config"
	"github.com/platinummonkey/tally/pkg/middleware"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage/postgres"
	"github.com/platinummonkey/tally/pkg/storage/redisstore"
)

// counterTaskTimeout bounds one background rolling-counter update
const counterTaskTimeout = 5 * time.Second

// disabledUsers rejects every bearer token when no OIDC issuer is configured
type disabledUsers struct{}

func (disabledUsers) Authenticate(context.Context, string) (string, error) {
	return "", auth.ErrUnauthenticated
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("tally exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	shutdown.Register("otel", providers.Shutdown)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db, err := postgres.NewConnectionManager(postgres.ConfigFromStorage(cfg.Storage), logger)
	if err != nil {
		return err
	}
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })
	db.StartHealthCheckRoutine(ctx, 30*time.Second)

	store, err := redisstore.Open(cfg.Storage,
		redisstore.WithTimeout(cfg.Storage.RedisOpTimeout),
		redisstore.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	shutdown.Register("redis", func(context.Context) error { return store.Close() })

	summaries := cache.New(store, cfg.Analytics.CacheTTL, metrics, logger)

	keys := auth.NewKeyService(
		auth.NewRepository(db.Primary()),
		auth.WithKeyLifetime(time.Duration(cfg.Auth.APIKeyExpirationDays)*24*time.Hour),
	)
	appService := apps.NewService(db.Primary(), keys, summaries)

	var users middleware.UserAuthenticator = disabledUsers{}
	if cfg.Auth.OIDCIssuerURL != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID)
		if err != nil {
			return err
		}
		users = auth.NewOIDCAuthenticator(verifier, auth.NewUserRepository(db.Replica()), cfg.Auth.UserCacheSize, cfg.Auth.UserCacheTTL)
	} else {
		logger.Warn("no OIDC issuer configured, user-scoped routes will reject every request")
	}

	counterQueue := async.NewTaskQueue("rolling-counters",
		cfg.Analytics.CounterWorkers, cfg.Analytics.CounterQueueSize, counterTaskTimeout,
		async.WithDepthGauge(metrics.CounterQueueDepth),
		async.WithLogger(logger),
	)
	shutdown.Register("counter-queue", counterQueue.Shutdown)

	ingestor := analytics.NewIngestor(
		analytics.NewRepository(db.Primary()),
		analytics.NewRollingCounters(store, cfg.Analytics.CounterTTL),
		counterQueue,
		metrics,
	)
	engine := analytics.NewEngine(analytics.NewRepository(db.Replica()), keys, appService, metrics)
	queries := analytics.NewService(engine, summaries, cfg.Analytics.DefaultRangeDays)

	limiter := middleware.NewFixedWindowLimiter(store.Client(),
		middleware.WithStoreTimeout(cfg.RateLimit.StoreTimeout),
		middleware.WithLimiterMetrics(metrics),
	)
	limits := middleware.NewRateLimitMiddleware(limiter, middleware.TiersFromConfig(cfg.RateLimit.Tiers), cfg.RateLimit.Enabled)

	proxies, err := auth.ParseIPAllowList(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Options{
		Collector:      ingestor,
		Analytics:      queries,
		Apps:           appService,
		Keys:           keys,
		KeyAuth:        keys,
		UserAuth:       users,
		RateLimit:      limits,
		Logger:         logger,
		Metrics:        metrics,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: proxies,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker().
		AddCritical("postgres", db).
		AddOptional("redis", store)
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown.AddServer(httpServer)
	shutdown.AddServer(healthServer)

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, healthServer} {
		srv := srv
		go func() {
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("server failed")
			cancel()
		}
	}()

	return shutdown.WaitForSignal(ctx)
}
