package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/forgeworks/tollgate/pkg/observability"
)

// ConfigurationError reports an invalid or missing configuration value.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Message)
}

// IsConfigurationError checks if an error is a ConfigurationError
func IsConfigurationError(err error) bool {
	_, ok := err.(*ConfigurationError)
	return ok
}

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Billing configuration
	Billing BillingConfig

	// Observability configuration
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// RedisConfig holds Redis configuration. Redis backs webhook
// deduplication; the service degrades to no dedupe without it.
type RedisConfig struct {
	URL string
}

// BillingConfig holds payment processor configuration
type BillingConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string

	// PlanPrices maps plan ids to processor price ids, parsed from
	// "starter=price_123,growth=price_456".
	PlanPrices map[string]string

	TrialDays int
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
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Billing:       loadBillingConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TOLLGATE_HOST", "0.0.0.0"),
		Port:            getEnv("TOLLGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TOLLGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TOLLGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TOLLGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TOLLGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("TOLLGATE_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:      getEnv("TOLLGATE_POSTGRES_URL", ""),
		MaxConns: getEnvInt("TOLLGATE_POSTGRES_MAX_CONNS", 25),
		MinConns: getEnvInt("TOLLGATE_POSTGRES_MIN_CONNS", 5),
		Timeout:  getEnvDuration("TOLLGATE_POSTGRES_TIMEOUT", 30*time.Second),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL: getEnv("TOLLGATE_REDIS_URL", ""),
	}
}

// loadBillingConfig loads billing configuration from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		StripeAPIKey:        getEnv("TOLLGATE_STRIPE_API_KEY", ""),
		StripeWebhookSecret: getEnv("TOLLGATE_STRIPE_WEBHOOK_SECRET", ""),
		PlanPrices:          parsePlanPrices(getEnv("TOLLGATE_STRIPE_PLAN_PRICES", "")),
		TrialDays:           getEnvInt("TOLLGATE_TRIAL_DAYS", 14),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	cfg := ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("TOLLGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TOLLGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TOLLGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TOLLGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TOLLGATE_OTEL_SERVICE_NAME", "tollgate-api"),
		OTelServiceVersion: getEnv("TOLLGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TOLLGATE_OTEL_INSECURE", true),
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return &ConfigurationError{Field: "TOLLGATE_PORT", Message: "server port is required"}
	}
	if c.Server.HealthPort == "" {
		return &ConfigurationError{Field: "TOLLGATE_HEALTH_PORT", Message: "health port is required"}
	}
	if c.Server.Port == c.Server.HealthPort {
		return &ConfigurationError{Field: "TOLLGATE_HEALTH_PORT", Message: "server port and health port must be different"}
	}

	// Validate database config
	if c.Database.URL == "" {
		return &ConfigurationError{Field: "TOLLGATE_POSTGRES_URL", Message: "postgres URL is required"}
	}
	if c.Database.MaxConns <= 0 {
		return &ConfigurationError{Field: "TOLLGATE_POSTGRES_MAX_CONNS", Message: "must be positive"}
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return &ConfigurationError{Field: "TOLLGATE_POSTGRES_MIN_CONNS", Message: "must be between 0 and max connections"}
	}

	// A Stripe key without a webhook secret means confirmed state could
	// never resync from the processor; reject it outright.
	if c.Billing.StripeAPIKey != "" && c.Billing.StripeWebhookSecret == "" {
		return &ConfigurationError{Field: "TOLLGATE_STRIPE_WEBHOOK_SECRET", Message: "required when a Stripe API key is set"}
	}
	if c.Billing.StripeAPIKey != "" && len(c.Billing.PlanPrices) == 0 {
		return &ConfigurationError{Field: "TOLLGATE_STRIPE_PLAN_PRICES", Message: "at least one plan=price mapping is required when a Stripe API key is set"}
	}
	if c.Billing.TrialDays < 0 {
		return &ConfigurationError{Field: "TOLLGATE_TRIAL_DAYS", Message: "must not be negative"}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return &ConfigurationError{Field: "TOLLGATE_OTEL_ENDPOINT", Message: "required when OTel is enabled"}
		}
		if c.Observability.OTelServiceName == "" {
			return &ConfigurationError{Field: "TOLLGATE_OTEL_SERVICE_NAME", Message: "required when OTel is enabled"}
		}
	}

	return nil
}

// parsePlanPrices parses a "plan=price,plan=price" mapping. Malformed
// entries are dropped rather than failing the whole load; Validate
// catches the empty-map case when Stripe is configured.
func parsePlanPrices(raw string) map[string]string {
	prices := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		prices[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return prices
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
