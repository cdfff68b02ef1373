package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("later")))
}

func TestSecret(t *testing.T) {
	s := Secret("nats-token")

	assert.True(t, s.IsSet())
	assert.Equal(t, "nats-token", s.Value())
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))

	data, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(data))

	var empty Secret
	assert.False(t, empty.IsSet())
	assert.Equal(t, "", empty.String())

	var parsed Secret
	require.NoError(t, parsed.UnmarshalText([]byte("raw")))
	assert.Equal(t, "raw", parsed.Value())
	require.NoError(t, json.Unmarshal([]byte(`"raw-json"`), &parsed))
	assert.Equal(t, "raw-json", parsed.Value())
}
