package config

import (
	"errors"
	"net/url"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"development"`
	LogLevel           string `envconfig:"LOG_LEVEL"`
	SiteURL            string `envconfig:"SITE_URL" default:"http://localhost:8080"`
	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	RunMigrations      bool   `envconfig:"RUN_MIGRATIONS" default:"true"`

	// Supabase auth. Missing values disable session handling instead of failing boot.
	SupabaseURL       string `envconfig:"SUPABASE_URL"`
	SupabaseAnonKey   string `envconfig:"SUPABASE_ANON_KEY"`
	SupabaseJWTSecret string `envconfig:"SUPABASE_JWT_SECRET"`

	// Supabase storage (S3 compatible)
	S3URL       string `envconfig:"S3_URL"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"documents"`
	S3Region    string `envconfig:"S3_REGION" default:"local"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY"`

	// Stripe
	StripeSecretKey       string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret   string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceStudent    string `envconfig:"STRIPE_PRICE_STUDENT_MONTHLY"`
	StripePriceCFI        string `envconfig:"STRIPE_PRICE_CFI_MONTHLY"`
	StripePriceSchool     string `envconfig:"STRIPE_PRICE_SCHOOL_MONTHLY"`
	StripePortalReturnURL string `envconfig:"STRIPE_PORTAL_RETURN_URL" default:"http://localhost:8080/dashboard"`

	// PostHog
	PostHogKey  string `envconfig:"POSTHOG_KEY"`
	PostHogHost string `envconfig:"POSTHOG_HOST" default:"https://us.i.posthog.com"`

	// OCR
	OCRAPIKey     string `envconfig:"OCR_API_KEY"`
	OCRBaseURL    string `envconfig:"OCR_BASE_URL" default:"https://api.mistral.ai"`
	OCRModel      string `envconfig:"OCR_MODEL" default:"mistral-ocr-latest"`
	OCRTimeoutSec int    `envconfig:"OCR_TIMEOUT_SEC" default:"60"`

	// Pub/Sub
	GCPProjectID                  string `envconfig:"GCP_PROJECT_ID"`
	PubSubEmulatorHost            string `envconfig:"PUBSUB_EMULATOR_HOST"`
	PubSubDocumentTopic           string `envconfig:"PUBSUB_DOCUMENT_TOPIC" default:"document-ocr"`
	PubSubPushAudience            string `envconfig:"PUBSUB_PUSH_AUDIENCE"`
	PubSubPushServiceAccountEmail string `envconfig:"PUBSUB_PUSH_SERVICE_ACCOUNT_EMAIL"`

	// Document sweeper (cmd/worker)
	SweepIntervalSec   int `envconfig:"SWEEP_INTERVAL_SEC" default:"60"`
	SweepStaleAfterSec int `envconfig:"SWEEP_STALE_AFTER_SEC" default:"600"`
	SweepBatchSize     int `envconfig:"SWEEP_BATCH_SIZE" default:"50"`

	// Redis, used for webhook idempotency. Optional.
	RedisURL string `envconfig:"REDIS_URL"`

	SentryDSN string `envconfig:"SENTRY_DSN"`
	Release   string `envconfig:"GIT_COMMIT_SHA" default:"development"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.SweepIntervalSec <= 0 || cfg.SweepBatchSize <= 0 {
		return nil, errors.New("SWEEP_INTERVAL_SEC and SWEEP_BATCH_SIZE must be positive")
	}
	return &cfg, nil
}

// IsDevelopment reports whether the app runs locally.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// AuthConfigured reports whether the Supabase endpoint and anon key are both set.
func (c *Config) AuthConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// ProjectRef returns the Supabase project reference, the first label of the
// SUPABASE_URL host ("abcd" for https://abcd.supabase.co). Local instances
// on 127.0.0.1 or localhost resolve to "127" and "localhost".
func (c *Config) ProjectRef() string {
	u, err := url.Parse(c.SupabaseURL)
	if err != nil || u.Hostname() == "" {
		return "local"
	}
	return strings.Split(u.Hostname(), ".")[0]
}

// SessionCookieName is the cookie the Supabase SSR helpers use for the session.
func (c *Config) SessionCookieName() string {
	return "sb-" + c.ProjectRef() + "-auth-token"
}
