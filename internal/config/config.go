// internal/config/config.go
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Mail providers.
const (
	ProviderSendGrid = "sendgrid"
	ProviderPostmark = "postmark"
)

// Campaign sources.
const (
	SourceBackend  = "backend"
	SourcePostgres = "postgres"
)

// Suppression modes.
const (
	SuppressionHTTP     = "http"
	SuppressionRedis    = "redis"
	SuppressionPostgres = "postgres"
	SuppressionNone     = "none"
)

type Config struct {
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`
	AppBaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	PrivacyURL string `env:"PRIVACY_URL"`

	Mail        MailConfig
	Backend     BackendConfig     `envPrefix:"BACKEND_"`
	Suppression SuppressionConfig `envPrefix:"SUPPRESSION_"`
	Dispatch    DispatchConfig    `envPrefix:"DISPATCH_"`

	CampaignSource string `env:"CAMPAIGN_SOURCE" envDefault:"backend"`
	DatabaseURL    string `env:"DATABASE_URL"`
	RedisURL       string `env:"REDIS_URL"`
	AMQPURL        string `env:"AMQP_URL"`
}

type MailConfig struct {
	Provider        string        `env:"MAIL_PROVIDER" envDefault:"sendgrid"`
	Timeout         time.Duration `env:"MAIL_TIMEOUT" envDefault:"15s"`
	SendGridAPIKey  string        `env:"SENDGRID_API_KEY"`
	SendGridBaseURL string        `env:"SENDGRID_BASE_URL" envDefault:"https://api.sendgrid.com"`
	FromEmail       string        `env:"SENDGRID_FROM_EMAIL" envDefault:"noreply@yourdomain.com"`
	FromName        string        `env:"SENDGRID_FROM_NAME" envDefault:"Your Organization"`
	PostmarkServer  string        `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccount string        `env:"POSTMARK_ACCOUNT_TOKEN"`
}

type BackendConfig struct {
	BaseURL    string        `env:"BASE_URL"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"10s"`
	MaxRetries int32         `env:"MAX_RETRIES" envDefault:"3"`
}

type SuppressionConfig struct {
	Mode     string `env:"MODE" envDefault:"none"`
	URL      string `env:"URL"`
	RedisKey string `env:"REDIS_KEY" envDefault:"suppressed_emails"`
}

type DispatchConfig struct {
	BatchSize   int           `env:"BATCH_SIZE" envDefault:"100"`
	BatchDelay  time.Duration `env:"BATCH_DELAY" envDefault:"1s"`
	Concurrency int           `env:"CONCURRENCY" envDefault:"1"`
}

// Load reads an optional .env file and parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on OS environment variables")
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Mail.Provider {
	case ProviderSendGrid, ProviderPostmark:
	default:
		return fmt.Errorf("config: unknown MAIL_PROVIDER %q", c.Mail.Provider)
	}
	switch c.CampaignSource {
	case SourceBackend, SourcePostgres:
	default:
		return fmt.Errorf("config: unknown CAMPAIGN_SOURCE %q", c.CampaignSource)
	}
	switch c.Suppression.Mode {
	case SuppressionHTTP, SuppressionRedis, SuppressionPostgres, SuppressionNone:
	default:
		return fmt.Errorf("config: unknown SUPPRESSION_MODE %q", c.Suppression.Mode)
	}
	if c.Dispatch.BatchSize < 1 {
		return fmt.Errorf("config: DISPATCH_BATCH_SIZE must be positive")
	}
	if c.Dispatch.Concurrency < 1 {
		return fmt.Errorf("config: DISPATCH_CONCURRENCY must be positive")
	}
	return nil
}

// Configured reports whether the chosen provider has credentials.
func (c MailConfig) Configured() bool {
	if c.Provider == ProviderPostmark {
		return c.PostmarkServer != ""
	}
	return c.SendGridAPIKey != ""
}

// NeedsDatabase reports whether any component reads Postgres.
func (c Config) NeedsDatabase() bool {
	return c.CampaignSource == SourcePostgres || c.Suppression.Mode == SuppressionPostgres
}
