package daemon

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/foreignd/internal/config"
	"github.com/fyrsmithlabs/foreignd/internal/events"
	"github.com/fyrsmithlabs/foreignd/internal/foreign"
	"github.com/fyrsmithlabs/foreignd/internal/http"
	"github.com/fyrsmithlabs/foreignd/internal/logging"
	"github.com/fyrsmithlabs/foreignd/internal/telemetry"
)

// Config is the complete daemon configuration.
type Config struct {
	Foreign   foreign.Config   `koanf:"foreign"`
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
	HTTP      http.Config      `koanf:"http"`
	NATS      events.Config    `koanf:"nats"`
	Loop      LoopConfig       `koanf:"loop"`
}

// LoopConfig configures the goroutine that owns registry state.
type LoopConfig struct {
	QueueSize int `koanf:"queue_size"`
	// ReloadDebounce coalesces bursts of config file writes.
	ReloadDebounce config.Duration `koanf:"reload_debounce"`
}

// NewDefaultConfig returns the configuration used when no file or
// environment override is present.
func NewDefaultConfig() *Config {
	return &Config{
		Foreign:   *foreign.NewDefaultConfig(),
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		HTTP:      *http.NewDefaultConfig(),
		NATS:      *events.NewDefaultConfig(),
		Loop: LoopConfig{
			QueueSize:      128,
			ReloadDebounce: config.Duration(100 * time.Millisecond),
		},
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	check("foreign", c.Foreign.Validate())
	check("logging", c.Logging.Validate())
	check("telemetry", c.Telemetry.Validate())
	check("http", c.HTTP.Validate())
	check("nats", c.NATS.Validate())
	if c.Loop.QueueSize <= 0 {
		check("loop", fmt.Errorf("queue_size must be positive, got %d", c.Loop.QueueSize))
	}
	if c.Loop.ReloadDebounce.Duration() < 0 {
		check("loop", fmt.Errorf("reload_debounce must not be negative"))
	}
	return errors.Join(errs...)
}

// LoadConfig layers the file at path and FOREIGND_ environment variables
// over the defaults and validates the result. An empty path selects the
// default location; a missing file is not an error.
func LoadConfig(path string, opts ...config.LoaderOption) (*Config, *config.Loader, error) {
	loader, err := config.NewLoader(path, opts...)
	if err != nil {
		return nil, nil, err
	}
	cfg := NewDefaultConfig()
	if err := loader.Load(cfg); err != nil {
		return nil, loader, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, loader, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, loader, nil
}
