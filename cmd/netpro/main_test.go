package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Config values
// ============================================================================

func TestSetConfigValue(t *testing.T) {
	t.Run("sets string fields", func(t *testing.T) {
		var cfg Config
		require.NoError(t, setConfigValue(&cfg, "default.base_url", "https://api.example.com"))
		require.NoError(t, setConfigValue(&cfg, "default.token", "tok-1"))
		require.NoError(t, setConfigValue(&cfg, "default.user_agent", "me/1.0"))
		require.NoError(t, setConfigValue(&cfg, "default.graphql_url", "https://api.example.com/graphql"))

		assert.Equal(t, "https://api.example.com", cfg.Default.BaseURL)
		assert.Equal(t, "tok-1", cfg.Default.Token)
		assert.Equal(t, "me/1.0", cfg.Default.UserAgent)
		assert.Equal(t, "https://api.example.com/graphql", cfg.Default.GraphQLURL)
	})

	t.Run("sets integer fields", func(t *testing.T) {
		var cfg Config
		require.NoError(t, setConfigValue(&cfg, "default.timeout_seconds", "45"))
		require.NoError(t, setConfigValue(&cfg, "stream.max_attempts", "5"))
		require.NoError(t, setConfigValue(&cfg, "stream.initial_delay_ms", "250"))
		require.NoError(t, setConfigValue(&cfg, "stream.max_delay_ms", "10000"))

		assert.Equal(t, 45, cfg.Default.TimeoutSeconds)
		assert.Equal(t, 5, cfg.Stream.MaxAttempts)
		assert.Equal(t, 250, cfg.Stream.InitialDelayMS)
		assert.Equal(t, 10000, cfg.Stream.MaxDelayMS)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		var cfg Config
		assert.Error(t, setConfigValue(&cfg, "nodot", "x"))
		assert.Error(t, setConfigValue(&cfg, "unknown.field", "x"))
		assert.Error(t, setConfigValue(&cfg, "default.nope", "x"))
		assert.Error(t, setConfigValue(&cfg, "stream.nope", "1"))
		assert.Error(t, setConfigValue(&cfg, "default.timeout_seconds", "soon"))
		assert.Error(t, setConfigValue(&cfg, "stream.max_attempts", "many"))
	})
}

// ============================================================================
// Config file and environment
// ============================================================================

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	want := &Config{
		Default: ConfigDefault{
			BaseURL:        "https://file.example",
			Token:          "file-token",
			TimeoutSeconds: 20,
		},
		Stream: ConfigStream{MaxAttempts: 8, InitialDelayMS: 100, MaxDelayMS: 5000},
	}
	require.NoError(t, saveConfig(want))

	got, err := loadConfigFile()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConfigMissingFileIsEmpty(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := loadConfigFile()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	require.NoError(t, saveConfig(&Config{
		Default: ConfigDefault{
			BaseURL: "https://file.example",
			Token:   "file-token",
		},
	}))

	t.Setenv("NETPRO_BASE_URL", "https://env.example")
	t.Setenv("NETPRO_TIMEOUT_SECONDS", "45")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://env.example", cfg.Default.BaseURL)
	assert.Equal(t, 45, cfg.Default.TimeoutSeconds)
	assert.Equal(t, "file-token", cfg.Default.Token)

	// The file loader never sees the environment, so "config set" cannot
	// accidentally persist override values.
	fileCfg, err := loadConfigFile()
	require.NoError(t, err)
	assert.Equal(t, "https://file.example", fileCfg.Default.BaseURL)
	assert.Zero(t, fileCfg.Default.TimeoutSeconds)
}

// ============================================================================
// Flag parsing helpers
// ============================================================================

func TestParseHeaders(t *testing.T) {
	t.Run("parses and trims", func(t *testing.T) {
		h, err := parseHeaders([]string{"Authorization: Bearer tok", "X-Trace:abc"})
		require.NoError(t, err)
		assert.Equal(t, http.Header{
			"Authorization": []string{"Bearer tok"},
			"X-Trace":       []string{"abc"},
		}, h)
	})

	t.Run("empty input yields nil", func(t *testing.T) {
		h, err := parseHeaders(nil)
		require.NoError(t, err)
		assert.Nil(t, h)
	})

	t.Run("missing colon is an error", func(t *testing.T) {
		_, err := parseHeaders([]string{"NotAHeader"})
		assert.Error(t, err)
	})
}

func TestParsePairs(t *testing.T) {
	t.Run("parses key=value", func(t *testing.T) {
		m, err := parsePairs([]string{"a=1", "b=two=parts"}, "form")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1", "b": "two=parts"}, m)
	})

	t.Run("missing equals is an error", func(t *testing.T) {
		_, err := parsePairs([]string{"novalue"}, "form")
		assert.ErrorContains(t, err, "--form")
	})
}

func TestReconnectPolicyFromConfig(t *testing.T) {
	cfg := &Config{Stream: ConfigStream{MaxAttempts: 5, InitialDelayMS: 250, MaxDelayMS: 10000}}
	p := reconnectPolicy(cfg)
	assert.Equal(t, 250*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
	assert.Equal(t, 5, p.MaxAttempts)
}
