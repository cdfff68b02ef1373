// Package config provides configuration loading for foreignd.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// DefaultEnvPrefix prefixes every environment override.
	DefaultEnvPrefix = "FOREIGND_"
)

var (
	// ErrConfigPath indicates the config file lies outside the allowed directories.
	ErrConfigPath = errors.New("config path not allowed")

	// ErrConfigFile indicates the config file has unsafe permissions or size.
	ErrConfigFile = errors.New("config file rejected")
)

// Loader layers a YAML file and environment variables over a defaults struct.
type Loader struct {
	envPrefix   string
	allowedDirs []string
	path        string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithEnvPrefix sets the environment variable prefix. An empty prefix
// disables environment overrides.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithAllowedDirs replaces the directories a config file may live in.
func WithAllowedDirs(dirs ...string) LoaderOption {
	return func(l *Loader) {
		l.allowedDirs = dirs
	}
}

// NewLoader creates a loader for the file at path. An empty path selects
// ~/.config/foreignd/config.yaml.
func NewLoader(path string, opts ...LoaderOption) (*Loader, error) {
	l := &Loader{envPrefix: DefaultEnvPrefix, path: path}
	for _, opt := range opts {
		opt(l)
	}

	if l.allowedDirs == nil || l.path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		if l.allowedDirs == nil {
			l.allowedDirs = []string{
				filepath.Join(home, ".config", "foreignd"),
				"/etc/foreignd",
			}
		}
		if l.path == "" {
			l.path = filepath.Join(home, ".config", "foreignd", "config.yaml")
		}
	}

	if err := validateConfigPath(l.path, l.allowedDirs); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the config file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load decodes the file (if present) and then environment overrides into
// target. Keys absent from both keep the values already in target.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FOREIGND_LOGGING_LEVEL, FOREIGND_HTTP_PORT, ...)
//  2. YAML config file
//  3. Values already present in target
//
// Environment variables map to keys by splitting on the first underscore
// after the prefix:
//
//	FOREIGND_LOGGING_LEVEL        -> logging.level
//	FOREIGND_FOREIGN_MAX_HANDLE_ATTEMPTS -> foreign.max_handle_attempts
func (l *Loader) Load(target any) error {
	k := koanf.New(".")

	content, err := readConfigFile(l.path)
	if err != nil {
		return err
	}
	if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", l.path, err)
		}
	}

	if l.envPrefix != "" {
		if err := k.Load(env.Provider(l.envPrefix, ".", envKey(l.envPrefix)), nil); err != nil {
			return fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// envKey maps PREFIX_SECTION_FIELD_NAME to section.field_name.
func envKey(prefix string) func(string) string {
	return func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, prefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}
}

// readConfigFile returns nil content when the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate through the open descriptor so the checked file is the read file.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks that path resolves inside one of dirs.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string, dirs []string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	for _, dir := range dirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absDir, resolved)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be in one of %s", ErrConfigPath, path, strings.Join(dirs, ", "))
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip on Windows (different permission model)
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("%w: insecure permissions %v (expected 0600 or 0400)", ErrConfigFile, perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrConfigFile, info.Size(), maxConfigFileSize)
	}
	return nil
}

// EnsureConfigDir creates the foreignd config directory with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "foreignd")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}
