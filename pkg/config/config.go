package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/observability"
	"github.com/notewise/notewise/pkg/plans"
	"github.com/notewise/notewise/pkg/storage"
)

// Auth modes
const (
	AuthModeOIDC = "oidc"
	AuthModeHMAC = "hmac"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Billing       BillingConfig
	Auth          AuthConfig
	LLM           LLMConfig
	RateLimit     RateLimitConfig
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// BillingConfig holds payment provider and catalog settings. Price ids are
// only ever read from here, never from clients.
type BillingConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string
	Prices              map[plans.PlanID]string

	CatalogPath          string
	AllowedRedirectHosts []string
	ProviderTimeout      time.Duration

	// Processed webhook event ids older than EventRetention are pruned on
	// PruneSchedule by the maintenance job
	EventRetention time.Duration
	PruneSchedule  string
}

// AuthConfig selects how bearer tokens are verified
type AuthConfig struct {
	Mode       string
	IssuerURL  string
	Audience   string
	HMACSecret string
}

// LLMConfig holds model settings for transformations
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// RateLimitConfig bounds request rates on LLM-backed endpoints
type RateLimitConfig struct {
	Enabled            bool
	UserPerMinute      int
	UserBurst          int
	AnonymousPerMinute int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Billing:       loadBillingConfig(),
		Auth:          loadAuthConfig(),
		LLM:           loadLLMConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadMaintenanceConfig loads the subset needed by the maintenance job:
// Postgres storage, retention settings, the health port and observability
func LoadMaintenanceConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Billing:       loadBillingConfig(),
		Observability: loadObservabilityConfig(),
	}

	if cfg.Storage.Type != storage.TypePostgres {
		return nil, invalid("NOTEWISE_STORAGE_TYPE", "maintenance requires postgres storage")
	}
	if err := validateStorage(cfg.Storage); err != nil {
		return nil, err
	}
	if cfg.Billing.EventRetention <= 0 {
		return nil, invalid("NOTEWISE_EVENT_RETENTION", "must be positive")
	}
	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("NOTEWISE_HOST", "0.0.0.0"),
		Port:            getEnv("NOTEWISE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("NOTEWISE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("NOTEWISE_WRITE_TIMEOUT", 90*time.Second),
		IdleTimeout:     getEnvDuration("NOTEWISE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("NOTEWISE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("NOTEWISE_MAX_BODY_BYTES", 1<<20),
		AllowedOrigins:  getEnvList("NOTEWISE_ALLOWED_ORIGINS"),
		HealthPort:      getEnv("NOTEWISE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("NOTEWISE_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = strings.ToLower(storageType)
	}

	// PostgreSQL config
	if pgURL := getEnv("NOTEWISE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("NOTEWISE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("NOTEWISE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("NOTEWISE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	cfg.AutoMigrate = getEnvBool("NOTEWISE_POSTGRES_AUTO_MIGRATE", cfg.AutoMigrate)

	// Redis config
	if redisURL := getEnv("NOTEWISE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("NOTEWISE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("NOTEWISE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("NOTEWISE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("NOTEWISE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Status cache config
	cfg.CacheEnabled = getEnvBool("NOTEWISE_CACHE_ENABLED", cfg.CacheEnabled)
	if size := getEnvInt("NOTEWISE_CACHE_SIZE", 0); size > 0 {
		cfg.CacheSize = size
	}
	if ttl := getEnvDuration("NOTEWISE_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL = ttl
	}

	return cfg
}

// loadBillingConfig loads payment settings from environment
func loadBillingConfig() BillingConfig {
	prices := map[plans.PlanID]string{}
	for _, id := range []plans.PlanID{plans.PlanBasic, plans.PlanPremium, plans.PlanEnterprise} {
		key := "NOTEWISE_STRIPE_PRICE_" + strings.ToUpper(string(id))
		if price := getEnv(key, ""); price != "" {
			prices[id] = price
		}
	}

	return BillingConfig{
		StripeSecretKey:      getEnv("NOTEWISE_STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:  getEnv("NOTEWISE_STRIPE_WEBHOOK_SECRET", ""),
		StripeAPIURL:         getEnv("NOTEWISE_STRIPE_API_URL", ""),
		Prices:               prices,
		CatalogPath:          getEnv("NOTEWISE_PLAN_CATALOG", ""),
		AllowedRedirectHosts: getEnvList("NOTEWISE_ALLOWED_REDIRECT_HOSTS"),
		ProviderTimeout:      getEnvDuration("NOTEWISE_PROVIDER_TIMEOUT", 10*time.Second),
		EventRetention:       getEnvDuration("NOTEWISE_EVENT_RETENTION", 30*24*time.Hour),
		PruneSchedule:        getEnv("NOTEWISE_PRUNE_SCHEDULE", "30 3 * * *"),
	}
}

// loadAuthConfig loads token verification settings from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		Mode:       strings.ToLower(getEnv("NOTEWISE_AUTH_MODE", AuthModeOIDC)),
		IssuerURL:  getEnv("NOTEWISE_AUTH_ISSUER_URL", ""),
		Audience:   getEnv("NOTEWISE_AUTH_AUDIENCE", ""),
		HMACSecret: getEnv("NOTEWISE_AUTH_HMAC_SECRET", ""),
	}
}

// loadLLMConfig loads model settings from environment
func loadLLMConfig() LLMConfig {
	return LLMConfig{
		APIKey:      getEnv("NOTEWISE_OPENAI_API_KEY", ""),
		BaseURL:     getEnv("NOTEWISE_OPENAI_BASE_URL", ""),
		Model:       getEnv("NOTEWISE_LLM_MODEL", "gpt-4"),
		Temperature: float32(getEnvFloat("NOTEWISE_LLM_TEMPERATURE", 0.7)),
		MaxTokens:   getEnvInt("NOTEWISE_LLM_MAX_TOKENS", 2000),
		Timeout:     getEnvDuration("NOTEWISE_LLM_TIMEOUT", 60*time.Second),
	}
}

// loadRateLimitConfig loads rate limits from environment
func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:            getEnvBool("NOTEWISE_RATE_LIMIT_ENABLED", true),
		UserPerMinute:      getEnvInt("NOTEWISE_RATE_LIMIT_USER_PER_MINUTE", 20),
		UserBurst:          getEnvInt("NOTEWISE_RATE_LIMIT_USER_BURST", 5),
		AnonymousPerMinute: getEnvInt("NOTEWISE_RATE_LIMIT_ANON_PER_MINUTE", 60),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("NOTEWISE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("NOTEWISE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("NOTEWISE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("NOTEWISE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("NOTEWISE_OTEL_SERVICE_NAME", "notewise-api"),
		OTelServiceVersion: getEnv("NOTEWISE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("NOTEWISE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("NOTEWISE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

func invalid(setting, message string) error {
	return &apperrors.ConfigurationError{Setting: setting, Message: message}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server
	if c.Server.Port == "" {
		return invalid("NOTEWISE_PORT", "server port is required")
	}
	if c.Server.HealthPort == "" {
		return invalid("NOTEWISE_HEALTH_PORT", "health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return invalid("NOTEWISE_HEALTH_PORT", "server port and health port must be different")
	}

	if err := validateStorage(c.Storage); err != nil {
		return err
	}

	// Billing
	if err := c.Billing.Validate(); err != nil {
		return err
	}

	// Auth
	switch c.Auth.Mode {
	case AuthModeOIDC:
		if c.Auth.IssuerURL == "" || c.Auth.Audience == "" {
			return invalid("NOTEWISE_AUTH_ISSUER_URL", "issuer URL and audience are required for oidc auth")
		}
	case AuthModeHMAC:
		if len(c.Auth.HMACSecret) < 32 {
			return invalid("NOTEWISE_AUTH_HMAC_SECRET", "must be at least 32 bytes")
		}
	default:
		return invalid("NOTEWISE_AUTH_MODE", fmt.Sprintf("invalid auth mode: %s (must be oidc or hmac)", c.Auth.Mode))
	}

	// LLM, optional: without a key /transformations is not served
	if c.LLM.APIKey != "" {
		if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
			return invalid("NOTEWISE_LLM_TEMPERATURE", "must be between 0 and 2")
		}
		if c.LLM.MaxTokens <= 0 {
			return invalid("NOTEWISE_LLM_MAX_TOKENS", "must be positive")
		}
	}

	// Rate limits
	if c.RateLimit.Enabled && (c.RateLimit.UserPerMinute <= 0 || c.RateLimit.AnonymousPerMinute <= 0) {
		return invalid("NOTEWISE_RATE_LIMIT_USER_PER_MINUTE", "rate limits must be positive when enabled")
	}

	// OpenTelemetry
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return invalid("NOTEWISE_OTEL_ENDPOINT", "OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return invalid("NOTEWISE_OTEL_SERVICE_NAME", "OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func validateStorage(cfg storage.Config) error {
	switch cfg.Type {
	case storage.TypeMemory:
	case storage.TypePostgres:
		if cfg.PostgresURL == "" {
			return invalid("NOTEWISE_POSTGRES_URL", "postgres URL is required for postgres storage")
		}
	default:
		return invalid("NOTEWISE_STORAGE_TYPE", fmt.Sprintf("invalid storage type: %s (must be memory or postgres)", cfg.Type))
	}
	return nil
}

// Validate checks the payment settings
func (b BillingConfig) Validate() error {
	if b.StripeSecretKey == "" {
		return invalid("NOTEWISE_STRIPE_SECRET_KEY", "is required")
	}
	if b.StripeWebhookSecret == "" {
		return invalid("NOTEWISE_STRIPE_WEBHOOK_SECRET", "is required")
	}
	for _, id := range []plans.PlanID{plans.PlanBasic, plans.PlanPremium, plans.PlanEnterprise} {
		if b.Prices[id] == "" {
			return invalid("NOTEWISE_STRIPE_PRICE_"+strings.ToUpper(string(id)), "price id is required")
		}
	}
	for _, host := range b.AllowedRedirectHosts {
		if strings.Contains(host, "/") {
			return invalid("NOTEWISE_ALLOWED_REDIRECT_HOSTS", fmt.Sprintf("%q must be a host, not a URL", host))
		}
	}
	if b.ProviderTimeout <= 0 {
		return invalid("NOTEWISE_PROVIDER_TIMEOUT", "must be positive")
	}
	return nil
}

// Addr returns the API listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// HealthAddr returns the health/metrics listen address
func (s ServerConfig) HealthAddr() string {
	return net.JoinHostPort(s.Host, s.HealthPort)
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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

// getEnvFloat returns a float environment variable or a default
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

// getEnvList splits a comma-separated variable, dropping empty entries
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
