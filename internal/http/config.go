package http

import (
	"fmt"
	"net"
	"time"

	"github.com/fyrsmithlabs/foreignd/internal/config"
)

// Config holds admin server configuration.
type Config struct {
	Enabled         bool            `koanf:"enabled"`
	Host            string          `koanf:"host"`
	Port            int             `koanf:"port"`
	ShutdownTimeout config.Duration `koanf:"shutdown_timeout"`
	SnapshotTimeout config.Duration `koanf:"snapshot_timeout"`
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig bounds request throughput per client address.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
}

// NewDefaultConfig returns admin server defaults. The server listens on
// loopback only.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Host:            "127.0.0.1",
		Port:            9470,
		ShutdownTimeout: config.Duration(10 * time.Second),
		SnapshotTimeout: config.Duration(2 * time.Second),
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     20,
			Burst:   40,
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", c.Port)
	}
	if c.Host != "" && c.Host != "localhost" && net.ParseIP(c.Host) == nil {
		return fmt.Errorf("host must be an IP address or localhost, got %q", c.Host)
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if c.SnapshotTimeout.Duration() <= 0 {
		return fmt.Errorf("snapshot_timeout must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate_limit rps and burst must be positive when enabled")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}
