package config

import (
	"errors"
	"testing"
	"time"

	"github.com/notewise/notewise/pkg/apperrors"
	"github.com/notewise/notewise/pkg/observability"
	"github.com/notewise/notewise/pkg/plans"
	"github.com/notewise/notewise/pkg/storage"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "custom")

	if got := getEnv("TEST_VAR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("TEST_VAR_NOT_SET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"upper case", "TRUE", false, true},
		{"false", "false", true, false},
		{"unset keeps default", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_DURATION", "soon")

	if got := getEnvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %d, want 42", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with bad value = %d, want default 7", got)
	}
	if got := getEnvInt64("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt64() = %d, want 42", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v, want 0.25", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v, want 90s", got)
	}
	if got := getEnvDuration("TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() with bad value = %v, want default", got)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " app.notewise.io, ,localhost:3000 ")

	got := getEnvList("TEST_LIST")
	if len(got) != 2 || got[0] != "app.notewise.io" || got[1] != "localhost:3000" {
		t.Errorf("getEnvList() = %v", got)
	}
	if got := getEnvList("TEST_LIST_NOT_SET"); got != nil {
		t.Errorf("getEnvList() for unset = %v, want nil", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]observability.LogLevel{
		"debug":   observability.DebugLevel,
		"INFO":    observability.InfoLevel,
		"warning": observability.WarnLevel,
		"error":   observability.ErrorLevel,
		"chatty":  observability.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoadStorageConfig(t *testing.T) {
	t.Setenv("NOTEWISE_STORAGE_TYPE", "Postgres")
	t.Setenv("NOTEWISE_POSTGRES_URL", "postgres://localhost/notewise")
	t.Setenv("NOTEWISE_POSTGRES_MAX_CONNS", "50")
	t.Setenv("NOTEWISE_REDIS_URL", "redis://localhost:6379")
	t.Setenv("NOTEWISE_CACHE_ENABLED", "false")
	t.Setenv("NOTEWISE_CACHE_TTL", "5s")

	cfg := loadStorageConfig()

	if cfg.Type != storage.TypePostgres {
		t.Errorf("Type = %q", cfg.Type)
	}
	if cfg.PostgresMaxConns != 50 {
		t.Errorf("PostgresMaxConns = %d", cfg.PostgresMaxConns)
	}
	if cfg.PostgresMinConns != storage.DefaultConfig().PostgresMinConns {
		t.Errorf("PostgresMinConns should keep default, got %d", cfg.PostgresMinConns)
	}
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.CacheEnabled {
		t.Error("CacheEnabled should be false")
	}
	if cfg.CacheTTL != 5*time.Second {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL)
	}
}

func TestLoadBillingConfig(t *testing.T) {
	t.Setenv("NOTEWISE_STRIPE_PRICE_BASIC", "price_basic")
	t.Setenv("NOTEWISE_STRIPE_PRICE_PREMIUM", "price_premium")
	t.Setenv("NOTEWISE_ALLOWED_REDIRECT_HOSTS", "app.notewise.io")

	cfg := loadBillingConfig()

	if cfg.Prices[plans.PlanBasic] != "price_basic" || cfg.Prices[plans.PlanPremium] != "price_premium" {
		t.Errorf("Prices = %v", cfg.Prices)
	}
	if _, ok := cfg.Prices[plans.PlanEnterprise]; ok {
		t.Error("unset price should not be present")
	}
	if cfg.EventRetention != 30*24*time.Hour {
		t.Errorf("EventRetention = %v", cfg.EventRetention)
	}
	if cfg.PruneSchedule != "30 3 * * *" {
		t.Errorf("PruneSchedule = %q", cfg.PruneSchedule)
	}
	if len(cfg.AllowedRedirectHosts) != 1 {
		t.Errorf("AllowedRedirectHosts = %v", cfg.AllowedRedirectHosts)
	}
}

func TestLoadLLMConfig_Defaults(t *testing.T) {
	cfg := loadLLMConfig()

	if cfg.Model != "gpt-4" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Temperature != 0.7 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
	if cfg.MaxTokens != 2000 {
		t.Errorf("MaxTokens = %d", cfg.MaxTokens)
	}
	if cfg.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
}

func validConfig() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080", HealthPort: "9090"},
		Storage: storage.DefaultConfig(),
		Billing: BillingConfig{
			StripeSecretKey:     "sk_test_1",
			StripeWebhookSecret: "whsec_1",
			Prices: map[plans.PlanID]string{
				plans.PlanBasic:      "price_basic",
				plans.PlanPremium:    "price_premium",
				plans.PlanEnterprise: "price_enterprise",
			},
			ProviderTimeout: 10 * time.Second,
		},
		Auth:      AuthConfig{Mode: AuthModeHMAC, HMACSecret: "0123456789abcdef0123456789abcdef"},
		LLM:       LLMConfig{APIKey: "sk-test", Temperature: 0.7, MaxTokens: 2000},
		RateLimit: RateLimitConfig{Enabled: true, UserPerMinute: 20, AnonymousPerMinute: 60},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		setting string
	}{
		{"valid", func(c *Config) {}, ""},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, "NOTEWISE_HEALTH_PORT"},
		{"unknown storage", func(c *Config) { c.Storage.Type = "s3" }, "NOTEWISE_STORAGE_TYPE"},
		{"postgres without url", func(c *Config) { c.Storage.Type = storage.TypePostgres }, "NOTEWISE_POSTGRES_URL"},
		{"missing stripe key", func(c *Config) { c.Billing.StripeSecretKey = "" }, "NOTEWISE_STRIPE_SECRET_KEY"},
		{"missing webhook secret", func(c *Config) { c.Billing.StripeWebhookSecret = "" }, "NOTEWISE_STRIPE_WEBHOOK_SECRET"},
		{"missing price", func(c *Config) { delete(c.Billing.Prices, plans.PlanPremium) }, "NOTEWISE_STRIPE_PRICE_PREMIUM"},
		{"redirect host is url", func(c *Config) { c.Billing.AllowedRedirectHosts = []string{"https://app.notewise.io/"} }, "NOTEWISE_ALLOWED_REDIRECT_HOSTS"},
		{"short hmac secret", func(c *Config) { c.Auth.HMACSecret = "short" }, "NOTEWISE_AUTH_HMAC_SECRET"},
		{"oidc without issuer", func(c *Config) { c.Auth = AuthConfig{Mode: AuthModeOIDC, Audience: "notewise"} }, "NOTEWISE_AUTH_ISSUER_URL"},
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "saml" }, "NOTEWISE_AUTH_MODE"},
		{"missing openai key", func(c *Config) { c.LLM.APIKey = "" }, ""},
		{"missing openai key ignores model settings", func(c *Config) { c.LLM = LLMConfig{Temperature: 5} }, ""},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 3 }, "NOTEWISE_LLM_TEMPERATURE"},
		{"zero rate limit", func(c *Config) { c.RateLimit.UserPerMinute = 0 }, "NOTEWISE_RATE_LIMIT_USER_PER_MINUTE"},
		{"rate limit disabled", func(c *Config) { c.RateLimit = RateLimitConfig{} }, ""},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = "notewise"
		}, "NOTEWISE_OTEL_ENDPOINT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.setting == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}

			var cfgErr *apperrors.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want ConfigurationError", err)
			}
			if cfgErr.Setting != tt.setting {
				t.Errorf("Setting = %q, want %q", cfgErr.Setting, tt.setting)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("NOTEWISE_STRIPE_SECRET_KEY", "sk_test_1")
	t.Setenv("NOTEWISE_STRIPE_WEBHOOK_SECRET", "whsec_1")
	t.Setenv("NOTEWISE_STRIPE_PRICE_BASIC", "price_basic")
	t.Setenv("NOTEWISE_STRIPE_PRICE_PREMIUM", "price_premium")
	t.Setenv("NOTEWISE_STRIPE_PRICE_ENTERPRISE", "price_enterprise")
	t.Setenv("NOTEWISE_AUTH_MODE", "hmac")
	t.Setenv("NOTEWISE_AUTH_HMAC_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("NOTEWISE_OPENAI_API_KEY", "sk-test")
	t.Setenv("NOTEWISE_PORT", "3000")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:3000" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
	if cfg.Storage.Type != storage.TypeMemory {
		t.Errorf("Storage.Type = %q", cfg.Storage.Type)
	}

	t.Setenv("NOTEWISE_OPENAI_API_KEY", "")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() without an OpenAI key: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}

	t.Setenv("NOTEWISE_STRIPE_SECRET_KEY", "")
	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() should fail without a stripe key")
	}
}

func TestLoadMaintenanceConfig(t *testing.T) {
	t.Setenv("NOTEWISE_STORAGE_TYPE", "memory")
	if _, err := LoadMaintenanceConfig(); err == nil {
		t.Error("memory storage should be rejected")
	}

	t.Setenv("NOTEWISE_STORAGE_TYPE", "postgres")
	t.Setenv("NOTEWISE_POSTGRES_URL", "postgres://localhost/notewise")
	t.Setenv("NOTEWISE_EVENT_RETENTION", "168h")

	cfg, err := LoadMaintenanceConfig()
	if err != nil {
		t.Fatalf("LoadMaintenanceConfig() error: %v", err)
	}
	if cfg.Billing.EventRetention != 7*24*time.Hour {
		t.Errorf("EventRetention = %v", cfg.Billing.EventRetention)
	}
	if cfg.Server.HealthAddr() != "0.0.0.0:9090" {
		t.Errorf("HealthAddr() = %q", cfg.Server.HealthAddr())
	}
}
