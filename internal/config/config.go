// Package config loads she-server's runtime configuration: listen address,
// key store backend selection, and logging options. spf13/viper binds
// flags, environment variables and an optional config file onto the same
// keys (see cmd/she-server's cobra/viper wiring).
package config

import (
	"fmt"
	"net/url"

	"github.com/spf13/viper"
)

// StoreKind selects a she.KeyStore backend.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreSQL    StoreKind = "sql"
)

type Config struct {
	ListenAddr string    `mapstructure:"listen_addr"`
	Store      StoreKind `mapstructure:"store"`
	StoreDSN   string    `mapstructure:"store_dsn"`
	LogFormat  string    `mapstructure:"log_format"`
	LogLevel   string    `mapstructure:"log_level"`

	// RateLimitPerSecond bounds accepted connections per second; 0 disables
	// the limiter entirely.
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

// Defaults returns a Config with conservative defaults, applied before any
// file/env/flag overrides.
func Defaults() Config {
	return Config{
		ListenAddr:         "127.0.0.1:9321",
		Store:              StoreMemory,
		StoreDSN:           "she.db",
		LogFormat:          "text",
		LogLevel:           "info",
		RateLimitPerSecond: 50,
		RateLimitBurst:     10,
	}
}

// Load reads configuration from v (already populated by viper from flags,
// environment, and an optional config file) into a Config, applying
// Defaults() first.
func Load(v *viper.Viper) (Config, error) {
	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	switch c.Store {
	case StoreMemory, StoreSQL:
	default:
		return fmt.Errorf("config: unknown store kind %q", c.Store)
	}
	if c.Store == StoreSQL && c.StoreDSN == "" {
		return fmt.Errorf("config: store_dsn is required for store=sql")
	}
	if c.Store == StoreSQL {
		if _, err := url.Parse(c.StoreDSN); err != nil {
			return fmt.Errorf("config: invalid store_dsn: %w", err)
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format must be text or json")
	}
	if c.RateLimitPerSecond < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("config: rate limit values must be non-negative")
	}
	return nil
}
