package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/foreignd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 64, cfg.Foreign.MaxHandleAttempts)
	assert.True(t, cfg.HTTP.Enabled)
	assert.False(t, cfg.NATS.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 128, cfg.Loop.QueueSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Loop.ReloadDebounce.Duration())
}

func TestConfig_ValidateReportsEverySection(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Foreign.MaxHandleAttempts = 0
	cfg.HTTP.Port = -1
	cfg.Loop.QueueSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foreign:")
	assert.Contains(t, err.Error(), "http:")
	assert.Contains(t, err.Error(), "loop: queue_size")
	assert.NotContains(t, err.Error(), "logging:")
}

func TestLoadConfig(t *testing.T) {
	t.Run("file and environment", func(t *testing.T) {
		path := writeConfig(t, `
foreign:
  max_handle_attempts: 8
logging:
  level: debug
http:
  port: 9999
nats:
  enabled: true
  url: nats://example:4222
  reconnect_wait: 3s
loop:
  queue_size: 16
`)
		t.Setenv("FOREIGND_LOGGING_LEVEL", "warn")

		cfg, loader, err := LoadConfig(path, config.WithAllowedDirs(filepath.Dir(path)))
		require.NoError(t, err)
		assert.Equal(t, path, loader.Path())

		assert.Equal(t, 8, cfg.Foreign.MaxHandleAttempts)
		assert.Equal(t, zapcore.WarnLevel, cfg.Logging.Level.Zap(), "environment wins over the file")
		assert.Equal(t, 9999, cfg.HTTP.Port)
		assert.Equal(t, "127.0.0.1", cfg.HTTP.Host, "unset keys keep defaults")
		assert.True(t, cfg.NATS.Enabled)
		assert.Equal(t, 3*time.Second, cfg.NATS.ReconnectWait.Duration())
		assert.Equal(t, "foreign", cfg.NATS.SubjectPrefix)
		assert.Equal(t, 16, cfg.Loop.QueueSize)
	})

	t.Run("missing file uses defaults", func(t *testing.T) {
		dir := t.TempDir()
		cfg, _, err := LoadConfig(filepath.Join(dir, "absent.yaml"),
			config.WithAllowedDirs(dir), config.WithEnvPrefix(""))
		require.NoError(t, err)
		assert.Equal(t, NewDefaultConfig(), cfg)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeConfig(t, "loop:\n  queue_size: -1\n")
		_, _, err := LoadConfig(path, config.WithAllowedDirs(filepath.Dir(path)), config.WithEnvPrefix(""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("disallowed path", func(t *testing.T) {
		path := writeConfig(t, "")
		_, _, err := LoadConfig(path, config.WithAllowedDirs(t.TempDir()))
		assert.ErrorIs(t, err, config.ErrConfigPath)
	})
}
