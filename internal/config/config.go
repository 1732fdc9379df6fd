// Package config defines the process configuration for the dirhub API.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"dirhub/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types just to unmask a credential.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
// Sub-components receive only the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"dirhub-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Billing       BillingConfig
	Store         StoreConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// PublicBaseURL is the site origin used for checkout and portal redirects
	// (no trailing slash).
	PublicBaseURL string        `envconfig:"PUBLIC_BASE_URL" validate:"required,url"`
	ReadTimeout   time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout  time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
}

// BillingConfig holds the payment provider credentials and tier catalogue.
type BillingConfig struct {
	// WebhookSecret verifies inbound webhook signatures. Required: without it
	// every notification would be rejected.
	WebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	// SecretKey authorizes outbound session creation. When empty, checkout
	// degrades to the no-provider fallback redirect.
	SecretKey SecretString `envconfig:"STRIPE_SECRET_KEY"`
	// TierPrices maps every paid tier to its provider price id.
	// Format: "enhanced:price_a,premium:price_b,featured:price_c,bundle_all:price_d".
	TierPrices      TierPriceMap  `envconfig:"STRIPE_TIER_PRICE_IDS"`
	APIBase         string        `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com" validate:"url"`
	ProviderTimeout time.Duration `envconfig:"BILLING_PROVIDER_TIMEOUT" default:"10s"`
}

// PriceIDs returns a copy of the tier to price id mapping.
func (b BillingConfig) PriceIDs() map[types.Tier]string {
	out := make(map[types.Tier]string, len(b.TierPrices))
	for k, v := range b.TierPrices {
		out[k] = v
	}
	return out
}

// ProviderEnabled reports whether outbound session creation is configured.
func (b BillingConfig) ProviderEnabled() bool {
	return !b.SecretKey.Empty()
}

// StoreConfig selects the company store backend.
type StoreConfig struct {
	Driver string `envconfig:"STORE_DRIVER" default:"postgres" validate:"oneof=postgres redis memory"`
	// SeedFile is an optional JSON file of companies loaded into the memory or
	// redis store at startup. Postgres is seeded with cmd/migrate.
	SeedFile string `envconfig:"STORE_SEED_FILE"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	AutoMigrate       bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// RedisConfig holds connection settings for the redis company store.
type RedisConfig struct {
	Addr      string       `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password  SecretString `envconfig:"REDIS_PASSWORD"`
	DB        int          `envconfig:"REDIS_DB" default:"0" validate:"min=0,max=15"`
	KeyPrefix string       `envconfig:"REDIS_KEY_PREFIX" default:"dirhub"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// TierEventsQueue receives one message per committed tier change. Optional.
	TierEventsQueue string `envconfig:"SQS_TIER_EVENTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds CORS and abuse-protection settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	// BillingRateLimit caps checkout and portal session creation per caller
	// within BillingRateWindow. Zero disables the limit.
	BillingRateLimit  int           `envconfig:"BILLING_RATE_LIMIT" default:"20" validate:"gte=0"`
	BillingRateWindow time.Duration `envconfig:"BILLING_RATE_WINDOW" default:"1m"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"dirhub"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a value could not be parsed into its target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
