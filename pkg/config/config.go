package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tally/pkg/auth"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Analytics     AnalyticsConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Jobs          JobsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	AllowedOrigins  []string
	// TrustedProxies are the peer addresses/CIDRs whose forwarding headers are honoured
	TrustedProxies  []string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AnalyticsConfig holds cache and rolling counter settings
type AnalyticsConfig struct {
	CacheTTL         time.Duration
	CounterTTL       time.Duration
	CounterWorkers   int
	CounterQueueSize int
	DefaultRangeDays int
}

// AuthConfig holds API key and user token settings
type AuthConfig struct {
	APIKeyExpirationDays int
	OIDCIssuerURL        string
	OIDCClientID         string
	UserCacheSize        int
	UserCacheTTL         time.Duration
}

// RateLimitConfig holds the limiter tiers
type RateLimitConfig struct {
	Enabled      bool
	StoreTimeout time.Duration
	Tiers        map[string]TierConfig
	// File is an optional YAML file overriding Tiers
	File string
}

// TierConfig describes one fixed-window rate limit tier
type TierConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	Message     string        `yaml:"message"`
}

// JobsConfig holds the aggregator's cron schedules (standard 5-field, UTC)
type JobsConfig struct {
	RollupSchedule   string
	KeySweepSchedule string
	ArchiveSchedule  string
	JobTimeout       time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// DefaultTiers returns the built-in rate limit tiers
func DefaultTiers() map[string]TierConfig {
	return map[string]TierConfig{
		"default": {
			MaxRequests: 100,
			Window:      time.Minute,
			Message:     "Too many requests, please try again later.",
		},
		"collection": {
			MaxRequests: 300,
			Window:      time.Minute,
			Message:     "Too many data collection requests, please try again later.",
		},
		"analytics": {
			MaxRequests: 30,
			Window:      time.Minute,
			Message:     "Too many analytics requests, please try again later.",
		},
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Analytics:     loadAnalyticsConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Jobs:          loadJobsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if cfg.RateLimit.File != "" {
		tiers, err := LoadTierFile(cfg.RateLimit.File)
		if err != nil {
			return nil, err
		}
		for name, tier := range tiers {
			cfg.RateLimit.Tiers[name] = tier
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TALLY_HOST", "0.0.0.0"),
		Port:            getEnv("TALLY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TALLY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TALLY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TALLY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TALLY_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("TALLY_MAX_BODY_BYTES", 1<<20),
		AllowedOrigins:  getEnvList("TALLY_ALLOWED_ORIGINS", []string{"*"}),
		TrustedProxies:  getEnvList("TALLY_TRUSTED_PROXIES", nil),
		HealthPort:      getEnv("TALLY_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.PostgresURL = getEnv("TALLY_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnv("TALLY_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if maxConns := getEnvInt("TALLY_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("TALLY_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	cfg.PostgresTimeout = getEnvDuration("TALLY_POSTGRES_TIMEOUT", cfg.PostgresTimeout)

	cfg.S3Endpoint = getEnv("TALLY_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("TALLY_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("TALLY_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("TALLY_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("TALLY_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("TALLY_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	cfg.RedisURL = getEnv("TALLY_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("TALLY_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("TALLY_REDIS_DB", cfg.RedisDB)
	if retries := getEnvInt("TALLY_REDIS_MAX_RETRIES", 0); retries > 0 {
		cfg.RedisMaxRetries = retries
	}
	if poolSize := getEnvInt("TALLY_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}
	cfg.RedisOpTimeout = getEnvDuration("TALLY_REDIS_OP_TIMEOUT", cfg.RedisOpTimeout)

	return cfg
}

func loadAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		CacheTTL:         getEnvDuration("TALLY_CACHE_TTL", time.Hour),
		CounterTTL:       getEnvDuration("TALLY_COUNTER_TTL", 7*24*time.Hour),
		CounterWorkers:   getEnvInt("TALLY_COUNTER_WORKERS", 4),
		CounterQueueSize: getEnvInt("TALLY_COUNTER_QUEUE_SIZE", 1024),
		DefaultRangeDays: getEnvInt("TALLY_DEFAULT_RANGE_DAYS", 7),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		APIKeyExpirationDays: getEnvInt("TALLY_API_KEY_EXPIRATION_DAYS", 90),
		OIDCIssuerURL:        getEnv("TALLY_OIDC_ISSUER_URL", ""),
		OIDCClientID:         getEnv("TALLY_OIDC_CLIENT_ID", ""),
		UserCacheSize:        getEnvInt("TALLY_USER_CACHE_SIZE", 10000),
		UserCacheTTL:         getEnvDuration("TALLY_USER_CACHE_TTL", 5*time.Minute),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:      getEnvBool("TALLY_RATE_LIMIT_ENABLED", true),
		StoreTimeout: getEnvDuration("TALLY_RATE_LIMIT_STORE_TIMEOUT", 500*time.Millisecond),
		Tiers:        DefaultTiers(),
		File:         getEnv("TALLY_RATE_LIMIT_FILE", ""),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		RollupSchedule:   getEnv("TALLY_ROLLUP_SCHEDULE", "5 0 * * *"),
		KeySweepSchedule: getEnv("TALLY_KEY_SWEEP_SCHEDULE", "0 * * * *"),
		ArchiveSchedule:  getEnv("TALLY_ARCHIVE_SCHEDULE", "30 0 * * *"),
		JobTimeout:       getEnvDuration("TALLY_JOB_TIMEOUT", 30*time.Minute),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TALLY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TALLY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TALLY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TALLY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TALLY_OTEL_SERVICE_NAME", "tally"),
		OTelServiceVersion: getEnv("TALLY_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TALLY_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TALLY_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if err := auth.ValidateIPRestrictions(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.Analytics.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Analytics.CounterTTL <= 0 {
		return fmt.Errorf("counter TTL must be positive")
	}
	if c.Analytics.CounterWorkers <= 0 || c.Analytics.CounterQueueSize <= 0 {
		return fmt.Errorf("counter workers and queue size must be positive")
	}
	if c.Analytics.DefaultRangeDays <= 0 {
		return fmt.Errorf("default range days must be positive")
	}

	if c.Auth.APIKeyExpirationDays <= 0 {
		return fmt.Errorf("API key expiration days must be positive")
	}

	for _, name := range []string{"default", "collection", "analytics"} {
		if _, ok := c.RateLimit.Tiers[name]; !ok {
			return fmt.Errorf("rate limit tier %q is required", name)
		}
	}
	for name, tier := range c.RateLimit.Tiers {
		if tier.MaxRequests <= 0 || tier.Window <= 0 {
			return fmt.Errorf("rate limit tier %q needs positive max_requests and window", name)
		}
	}

	if c.Jobs.JobTimeout <= 0 {
		return fmt.Errorf("job timeout must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
