package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, zapcore.InfoLevel, cfg.Level.Zap())
	assert.Equal(t, StreamStderr, cfg.Output.Stream)
	assert.Contains(t, cfg.Redaction.Fields, "handle")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad format", func(c *Config) { c.Format = "xml" }, "format"},
		{"bad stream", func(c *Config) { c.Output.Stream = "file" }, "output.stream"},
		{"no output", func(c *Config) { c.Output.Stream = StreamNone }, "at least one output"},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, "sampling tick"},
		{"negative initial", func(c *Config) { c.Sampling.Initial = -1 }, "sampling initial"},
		{"negative skip", func(c *Config) { c.Caller.Skip = -1 }, "caller skip"},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, "invalid redaction pattern"},
		{"empty field value", func(c *Config) { c.Fields["env"] = "" }, "empty value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestLevel_Text(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"trace", TraceLevel},
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"ERROR", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		var l Level
		require.NoError(t, l.UnmarshalText([]byte(tt.in)))
		assert.Equal(t, tt.want, l.Zap())
	}

	var l Level
	assert.Error(t, l.UnmarshalText([]byte("loud")))

	text, err := Level(TraceLevel).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "trace", string(text))
}
