package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/foreignd/internal/config"
)

// Config holds NATS bridge configuration.
type Config struct {
	Enabled       bool            `koanf:"enabled"`
	URL           string          `koanf:"url"`
	Name          string          `koanf:"name"`
	SubjectPrefix string          `koanf:"subject_prefix"`
	Stream        string          `koanf:"stream"` // JetStream stream; empty publishes on core NATS
	Token         config.Secret   `koanf:"token"`
	MaxReconnects int             `koanf:"max_reconnects"`
	ReconnectWait config.Duration `koanf:"reconnect_wait"`
	BufferSize    int             `koanf:"buffer_size"`
	FlushTimeout  config.Duration `koanf:"flush_timeout"`
}

// NewDefaultConfig returns bridge defaults. The bridge is off until a
// server is configured.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:       false,
		URL:           "nats://localhost:4222",
		Name:          "foreignd",
		SubjectPrefix: "foreign",
		MaxReconnects: 5,
		ReconnectWait: config.Duration(time.Second),
		BufferSize:    1024,
		FlushTimeout:  config.Duration(2 * time.Second),
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return fmt.Errorf("url is required when the nats bridge is enabled")
	}
	if c.SubjectPrefix == "" || strings.ContainsAny(c.SubjectPrefix, " *>\t") ||
		strings.HasPrefix(c.SubjectPrefix, ".") || strings.HasSuffix(c.SubjectPrefix, ".") {
		return fmt.Errorf("subject_prefix must be a literal subject, got %q", c.SubjectPrefix)
	}
	if strings.ContainsAny(c.Stream, " .*>") {
		return fmt.Errorf("stream name %q contains invalid characters", c.Stream)
	}
	if c.MaxReconnects < -1 {
		return fmt.Errorf("max_reconnects must be >= -1, got %d", c.MaxReconnects)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.FlushTimeout.Duration() <= 0 {
		return fmt.Errorf("flush_timeout must be positive")
	}
	return nil
}
