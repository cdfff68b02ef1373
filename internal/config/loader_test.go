package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Foreign struct {
		MaxHandleAttempts int `koanf:"max_handle_attempts"`
	} `koanf:"foreign"`
	Logging struct {
		Level string `koanf:"level"`
	} `koanf:"logging"`
	HTTP struct {
		Port    int      `koanf:"port"`
		Host    string   `koanf:"host"`
		Timeout Duration `koanf:"timeout"`
	} `koanf:"http"`
	NATS struct {
		Token Secret `koanf:"token"`
	} `koanf:"nats"`
}

func defaults() *testConfig {
	cfg := &testConfig{}
	cfg.Foreign.MaxHandleAttempts = 8
	cfg.Logging.Level = "info"
	cfg.HTTP.Port = 9191
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Timeout = Duration(10 * time.Second)
	return cfg
}

// writeConfig writes content with owner-only permissions and returns its path.
func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
foreign:
  max_handle_attempts: 3
http:
  port: 8080
  timeout: 5s
nats:
  token: s3cret
`)

	loader, err := NewLoader(path, WithAllowedDirs(dir))
	require.NoError(t, err)
	cfg := defaults()
	require.NoError(t, loader.Load(cfg))

	assert.Equal(t, 3, cfg.Foreign.MaxHandleAttempts)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout.Duration())
	assert.Equal(t, "s3cret", cfg.NATS.Token.Value())
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host, "unset keys keep their defaults")
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoader_EnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "http:\n  port: 8080\nlogging:\n  level: warn\n")
	t.Setenv("FOREIGND_HTTP_PORT", "9999")
	t.Setenv("FOREIGND_FOREIGN_MAX_HANDLE_ATTEMPTS", "2")
	t.Setenv("FOREIGND_NATS_TOKEN", "from-env")

	loader, err := NewLoader(path, WithAllowedDirs(dir))
	require.NoError(t, err)
	cfg := defaults()
	require.NoError(t, loader.Load(cfg))

	assert.Equal(t, 9999, cfg.HTTP.Port)
	assert.Equal(t, 2, cfg.Foreign.MaxHandleAttempts)
	assert.Equal(t, "from-env", cfg.NATS.Token.Value())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoader_EnvPrefixDisabled(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FOREIGND_HTTP_PORT", "9999")

	loader, err := NewLoader(filepath.Join(dir, "config.yaml"), WithAllowedDirs(dir), WithEnvPrefix(""))
	require.NoError(t, err)
	cfg := defaults()
	require.NoError(t, loader.Load(cfg))
	assert.Equal(t, 9191, cfg.HTTP.Port)
}

func TestLoader_MissingFile(t *testing.T) {
	dir := t.TempDir()
	loader, err := NewLoader(filepath.Join(dir, "absent.yaml"), WithAllowedDirs(dir))
	require.NoError(t, err)

	cfg := defaults()
	require.NoError(t, loader.Load(cfg))
	assert.Equal(t, defaults(), cfg)
}

func TestLoader_DefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	loader, err := NewLoader("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "foreignd", "config.yaml"), loader.Path())

	require.NoError(t, EnsureConfigDir())
	info, err := os.Stat(filepath.Join(home, ".config", "foreignd"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoader_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "http: [port: 1\n")

	loader, err := NewLoader(path, WithAllowedDirs(dir))
	require.NoError(t, err)
	err = loader.Load(defaults())
	assert.ErrorContains(t, err, "failed to load config file")
}

func TestLoader_BadValue(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "http:\n  timeout: soon\n")

	loader, err := NewLoader(path, WithAllowedDirs(dir))
	require.NoError(t, err)
	err = loader.Load(defaults())
	assert.ErrorContains(t, err, "failed to unmarshal config")
}

func TestValidateConfigPath(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"inside", filepath.Join(dir, "config.yaml"), false},
		{"nested", filepath.Join(dir, "sub", "config.yaml"), false},
		{"traversal", filepath.Join(dir, "..", "config.yaml"), true},
		{"sibling prefix", dir + "-evil/config.yaml", true},
		{"outside", filepath.Join(other, "config.yaml"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(tt.path, WithAllowedDirs(dir))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfigPath)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoader_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := t.TempDir()
	path := writeConfig(t, dir, "http:\n  port: 1\n")

	for _, perm := range []os.FileMode{0644, 0666, 0640} {
		require.NoError(t, os.Chmod(path, perm))
		loader, err := NewLoader(path, WithAllowedDirs(dir))
		require.NoError(t, err)
		err = loader.Load(defaults())
		assert.ErrorIs(t, err, ErrConfigFile, "perm %v", perm)
	}

	require.NoError(t, os.Chmod(path, 0400))
	loader, err := NewLoader(path, WithAllowedDirs(dir))
	require.NoError(t, err)
	assert.NoError(t, loader.Load(defaults()))
}

func TestLoader_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	large := bytes.Repeat([]byte("# padding\n"), maxConfigFileSize/10+1)
	path := writeConfig(t, dir, string(large))

	loader, err := NewLoader(path, WithAllowedDirs(dir))
	require.NoError(t, err)
	err = loader.Load(defaults())
	assert.ErrorIs(t, err, ErrConfigFile)
	assert.ErrorContains(t, err, "max")
}

func TestEnvKey(t *testing.T) {
	key := envKey(DefaultEnvPrefix)
	assert.Equal(t, "logging.level", key("FOREIGND_LOGGING_LEVEL"))
	assert.Equal(t, "foreign.max_handle_attempts", key("FOREIGND_FOREIGN_MAX_HANDLE_ATTEMPTS"))
	assert.Equal(t, "debug", key("FOREIGND_DEBUG"))
}
