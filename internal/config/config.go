package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	MidtransServerKey  string        `env:"MIDTRANS_SERVER_KEY,required" validate:"required"`
	MidtransProduction bool          `env:"MIDTRANS_PRODUCTION" envDefault:"false"`
	MidtransBaseURL    string        `env:"MIDTRANS_BASE_URL" validate:"omitempty,url"`
	GatewayTimeout     time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"8s"`

	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"2m"`
	SweepStaleAfter time.Duration `env:"SWEEP_STALE_AFTER" envDefault:"15m"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`

	EmailProvider string `env:"EMAIL_PROVIDER" validate:"omitempty,oneof=resend"`
	ResendAPIKey  string `env:"RESEND_API_KEY"`
	EmailFrom     string `env:"EMAIL_FROM" validate:"omitempty,email"`

	SentryDSN string `env:"SENTRY_DSN"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if c.EmailEnabled() {
		if strings.TrimSpace(c.ResendAPIKey) == "" || strings.TrimSpace(c.EmailFrom) == "" {
			return fmt.Errorf("RESEND_API_KEY and EMAIL_FROM are required when EMAIL_PROVIDER is set")
		}
	}

	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.SweepInterval <= 0 || c.SweepStaleAfter <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL and SWEEP_STALE_AFTER must be positive")
	}

	return nil
}

// EmailEnabled reports whether buyer notification emails are configured.
func (c *Config) EmailEnabled() bool {
	return strings.TrimSpace(c.EmailProvider) != ""
}
