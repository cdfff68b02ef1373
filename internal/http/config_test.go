package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"disabled skips validation", func(c *Config) { c.Enabled = false; c.Port = -1 }, ""},
		{"ephemeral port", func(c *Config) { c.Port = 0 }, ""},
		{"localhost", func(c *Config) { c.Host = "localhost" }, ""},
		{"bad port", func(c *Config) { c.Port = 65536 }, "port must be"},
		{"bad host", func(c *Config) { c.Host = "example.com" }, "host must be"},
		{"zero shutdown", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"zero snapshot", func(c *Config) { c.SnapshotTimeout = 0 }, "snapshot_timeout"},
		{"zero rps", func(c *Config) { c.RateLimit.RPS = 0 }, "rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Addr(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, "127.0.0.1:9470", cfg.Addr())
	cfg.Host = "::1"
	assert.Equal(t, "[::1]:9470", cfg.Addr())
}
