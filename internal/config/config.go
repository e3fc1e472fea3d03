package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// devJWTSecret is only acceptable outside production.
const devJWTSecret = "dev-secret-do-not-use-in-production"

// Config holds all server settings, loaded from the environment.
type Config struct {
	Environment string `env:"CHATD_ENV" envDefault:"development"`
	Addr        string `env:"CHATD_ADDR" envDefault:"127.0.0.1:8080"`
	DBPath      string `env:"CHATD_DB" envDefault:"chatd.db"`

	JWTSecret  string        `env:"JWT_SECRET"`
	AccessTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	ChannelCapacity   int           `env:"CHANNEL_CAPACITY" envDefault:"1000"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"90s"`

	AuthRateLimit float64 `env:"AUTH_RATE_LIMIT" envDefault:"5"`
	AuthRateBurst int     `env:"AUTH_RATE_BURST" envDefault:"10"`
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings and fills the development JWT secret fallback.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.JWTSecret == "" {
		if c.Production() {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		c.JWTSecret = devJWTSecret
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("channel capacity must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout must exceed the interval")
	}
	if c.AuthRateLimit <= 0 || c.AuthRateBurst <= 0 {
		return fmt.Errorf("auth rate limit and burst must be positive")
	}
	return nil
}

// Production reports whether the server runs with production hardening.
func (c *Config) Production() bool {
	return c.Environment == "production"
}

// UsingDevSecret reports whether the fallback JWT secret is in effect.
func (c *Config) UsingDevSecret() bool {
	return c.JWTSecret == devJWTSecret
}
