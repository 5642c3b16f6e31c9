package dash

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
		assert.Equal(t, DefaultEndpoints, cfg.Endpoints)
		assert.Equal(t, 60*time.Second, cfg.Interval)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dash.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
app: token-1
endpoints:
  - https://collector.example
  - file:///var/spool/dash
interval: 30s
file_first: true
skip_tls_verify: true
read_timeout: 5s
fake_host_count: 3
`), 0o600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "token-1", cfg.App)
		assert.Equal(t, []string{"https://collector.example", "file:///var/spool/dash"}, cfg.Endpoints)
		assert.Equal(t, 30*time.Second, cfg.Interval)
		assert.True(t, cfg.FileFirst)
		assert.True(t, cfg.SkipTLSVerify)
		assert.Equal(t, defaultOpenTimeout, cfg.OpenTimeout)
		assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
		assert.Equal(t, 3, cfg.FakeHostCount)
		require.NoError(t, cfg.Validate())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("interval: [1, 2"), 0o600))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvEndpoints:     "  https://a.example , file:///tmp/x,, ",
		EnvApp:           "env-token",
		EnvFakeHostCount: "2",
	}
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, []string{"https://a.example", "file:///tmp/x"}, cfg.Endpoints)
	assert.Equal(t, "env-token", cfg.App)
	assert.Equal(t, 2, cfg.FakeHostCount)

	cfg = DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(func(string) string { return "" }))
	assert.Equal(t, DefaultConfig(), cfg)

	env[EnvFakeHostCount] = "many"
	assert.Error(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	valid.App = "token"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing app", mutate: func(c *Config) { c.App = "" }},
		{name: "zero interval", mutate: func(c *Config) { c.Interval = 0 }},
		{name: "no endpoints", mutate: func(c *Config) { c.Endpoints = nil }},
		{name: "bad endpoint", mutate: func(c *Config) { c.Endpoints = []string{"http://[::1"} }},
		{name: "negative fake hosts", mutate: func(c *Config) { c.FakeHostCount = -1 }},
		{name: "negative timeout", mutate: func(c *Config) { c.ReadTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Endpoints = append([]string(nil), valid.Endpoints...)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := valid
	cfg.Interval = -time.Second
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidInterval)
}

func TestConfig_ParsedEndpoints(t *testing.T) {
	cfg := DefaultConfig()
	endpoints, err := cfg.ParsedEndpoints()
	require.NoError(t, err)
	require.Len(t, endpoints, 2)
	assert.True(t, endpoints[0].IsHTTP())
	assert.Equal(t, HTTPTimeouts{Open: 10 * time.Second, Read: 10 * time.Second}, cfg.Timeouts())
}
