// Package config provides environment-based configuration for the magiclink
// service.
//
// Configuration is loaded from environment variables using Viper, with
// sensible defaults for development.
//
// # Environment Variables
//
//   - DB_TYPE: Database type (sqlite, postgres, mysql). Default: sqlite
//   - DSN: Database connection string. Default: magiclink.db
//   - SKIP_AUTO_MIGRATE: Skip automatic database migrations. Default: false
//   - LOG_LEVEL: Logging level (debug, info, warn, error). Default: info
//   - PORT: HTTP server port. Default: 8080
//   - LINK_EXPIRY: Default link lifetime in seconds. Default: 300
//   - DEFAULT_REDIRECT: Post-login redirect target. Default: /
//   - SESSION_EXPIRY: Lifetime (seconds) of sessions established via a
//     magic link. Default: 86400
//   - SESSION_SECRET: HS256 signing key for session tokens.
//   - REDIS_ADDR: Redis address for distributed rate limiting. Empty means
//     in-memory rate limiting.
//   - RATE_LIMIT / RATE_WINDOW: Use attempts allowed per client IP per
//     window (seconds). RATE_LIMIT=0 disables rate limiting. Default: 10/60
//   - TELEMETRY_ENABLED: Enable OpenTelemetry metrics. Default: true
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DBType          string `mapstructure:"DB_TYPE"` // sqlite, postgres, mysql
	DSN             string `mapstructure:"DSN"`
	SkipAutoMigrate bool   `mapstructure:"SKIP_AUTO_MIGRATE"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	Port            int    `mapstructure:"PORT"`

	LinkExpiry      int    `mapstructure:"LINK_EXPIRY"` // seconds
	DefaultRedirect string `mapstructure:"DEFAULT_REDIRECT"`

	SessionExpiry int    `mapstructure:"SESSION_EXPIRY"` // seconds
	SessionSecret string `mapstructure:"SESSION_SECRET"`

	RedisAddr  string `mapstructure:"REDIS_ADDR"`
	RateLimit  int    `mapstructure:"RATE_LIMIT"`
	RateWindow int    `mapstructure:"RATE_WINDOW"` // seconds

	TelemetryEnabled bool `mapstructure:"TELEMETRY_ENABLED"`
}

// LinkTTL returns the default link lifetime as a duration.
func (c *Config) LinkTTL() time.Duration {
	return time.Duration(c.LinkExpiry) * time.Second
}

// SessionTTL returns the magic-link session lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionExpiry) * time.Second
}

// RateLimitWindow returns the rate limit window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateWindow) * time.Second
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("PORT", 8080)
	viper.SetDefault("DB_TYPE", "sqlite")
	viper.SetDefault("DSN", "magiclink.db")
	viper.SetDefault("SKIP_AUTO_MIGRATE", false)
	viper.SetDefault("LINK_EXPIRY", 300)
	viper.SetDefault("DEFAULT_REDIRECT", "/")
	viper.SetDefault("SESSION_EXPIRY", 86400)
	viper.SetDefault("SESSION_SECRET", "dev-secret-change-me")
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("RATE_LIMIT", 10)
	viper.SetDefault("RATE_WINDOW", 60)
	viper.SetDefault("TELEMETRY_ENABLED", true)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
