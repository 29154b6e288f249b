// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. Validation failures are
// *apperrors.ConfigurationError naming the offending variable.
//
// # Configuration Structure
//
// Server settings:
//
//	NOTEWISE_HOST="0.0.0.0"
//	NOTEWISE_PORT="8080"
//	NOTEWISE_HEALTH_PORT="9090"
//	NOTEWISE_ALLOWED_ORIGINS="https://app.notewise.io"
//
// Storage settings:
//
//	NOTEWISE_STORAGE_TYPE="postgres"  # memory, postgres
//	NOTEWISE_POSTGRES_URL="postgres://localhost/notewise"
//	NOTEWISE_REDIS_URL="redis://localhost:6379"
//	NOTEWISE_CACHE_TTL="30s"
//
// Billing settings:
//
//	NOTEWISE_STRIPE_SECRET_KEY="sk_live_..."
//	NOTEWISE_STRIPE_WEBHOOK_SECRET="whsec_..."
//	NOTEWISE_STRIPE_PRICE_BASIC="price_..."
//	NOTEWISE_STRIPE_PRICE_PREMIUM="price_..."
//	NOTEWISE_STRIPE_PRICE_ENTERPRISE="price_..."
//	NOTEWISE_ALLOWED_REDIRECT_HOSTS="app.notewise.io"
//	NOTEWISE_EVENT_RETENTION="720h"
//
// Auth settings:
//
//	NOTEWISE_AUTH_MODE="oidc"  # oidc, hmac
//	NOTEWISE_AUTH_ISSUER_URL="https://securetoken.google.com/notewise"
//	NOTEWISE_AUTH_AUDIENCE="notewise"
//
// LLM settings:
//
//	NOTEWISE_OPENAI_API_KEY="sk-..."
//	NOTEWISE_LLM_MODEL="gpt-4"
//	NOTEWISE_LLM_TIMEOUT="60s"
//
// Observability settings:
//
//	NOTEWISE_LOG_LEVEL="info"  # debug, info, warn, error
//	NOTEWISE_METRICS_ENABLED="true"
//	NOTEWISE_OTEL_ENABLED="true"
//	NOTEWISE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
