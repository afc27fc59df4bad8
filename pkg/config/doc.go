// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. Invalid values surface as ConfigurationError.
//
// # Configuration Structure
//
// Server settings:
//
//	TOLLGATE_HOST="0.0.0.0"
//	TOLLGATE_PORT="8080"
//	TOLLGATE_HEALTH_PORT="9090"
//	TOLLGATE_READ_TIMEOUT="15s"
//	TOLLGATE_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	TOLLGATE_POSTGRES_URL="postgres://localhost/tollgate"
//	TOLLGATE_POSTGRES_MAX_CONNS="25"
//	TOLLGATE_POSTGRES_MIN_CONNS="5"
//
// Redis settings (webhook deduplication):
//
//	TOLLGATE_REDIS_URL="redis://localhost:6379"
//
// Billing settings:
//
//	TOLLGATE_STRIPE_API_KEY="sk_live_..."
//	TOLLGATE_STRIPE_WEBHOOK_SECRET="whsec_..."
//	TOLLGATE_STRIPE_PLAN_PRICES="starter=price_123,growth=price_456"
//	TOLLGATE_TRIAL_DAYS="14"
//
// Observability settings:
//
//	TOLLGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	TOLLGATE_METRICS_ENABLED="true"
//	TOLLGATE_OTEL_ENABLED="true"
//	TOLLGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/stripe: Uses billing configuration
//   - pkg/observability: Uses observability configuration
package config
