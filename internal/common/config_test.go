package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DefaultPort(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port default = %d, want %d", cfg.Server.Port, 8080)
	}
}

func TestConfig_PortEnvOverride(t *testing.T) {
	t.Setenv("QUOTEFEED_PORT", "9090")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d after env override, want %d", cfg.Server.Port, 9090)
	}
}

func TestConfig_ProviderEnvOverride(t *testing.T) {
	t.Setenv("QUOTEFEED_PROVIDER", "AlphaVantage")
	t.Setenv("QUOTEFEED_DATA_PATH", "/tmp/qf")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, "AlphaVantage", cfg.Quotes.Provider)
	assert.Equal(t, "/tmp/qf", cfg.Storage.Path)
	assert.Equal(t, filepath.Join("/tmp/qf", "throttle"), cfg.Storage.ThrottleDir())
}

func TestLoadConfig_MergesFiles(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	local := filepath.Join(dir, "local.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
environment = "production"

[quotes]
provider = "TwelveData"
post_call_delay = "250ms"

[[providers]]
name = "TwelveData"
api_key = "from-file"
requests_per_minute = 8
`), 0644))
	require.NoError(t, os.WriteFile(local, []byte(`
[storage]
backend = "sqlite"
`), 0644))

	cfg, err := LoadConfig(base, local, filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "TwelveData", cfg.Quotes.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.Quotes.GetPostCallDelay())
	assert.Equal(t, "sqlite", cfg.Storage.Backend)

	p, ok := cfg.Provider("twelvedata")
	require.True(t, ok)
	assert.Equal(t, "from-file", p.APIKey)
	assert.Equal(t, 8, p.RequestsPerMinute)
	assert.Nil(t, p.HistoryEnabled)
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("QUOTEFEED_STORAGE_BACKEND", "mongo")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestQuotesConfig_DurationFallbacks(t *testing.T) {
	c := QuotesConfig{PostCallDelay: "nonsense"}
	assert.Equal(t, time.Second, c.GetPostCallDelay())
	assert.Equal(t, 20*time.Second, c.GetHTTPTimeout())
	assert.Equal(t, FreshnessHistory, c.GetHistoryMaxAge())
	assert.Zero(t, c.GetRefreshInterval())
}

func TestResolveAPIKey(t *testing.T) {
	assert.Equal(t, "fallback", ResolveAPIKey("PolygonIO", "fallback"))

	t.Setenv("QUOTEFEED_POLYGONIO_API_KEY", "prefixed")
	assert.Equal(t, "prefixed", ResolveAPIKey("PolygonIO", "fallback"))

	t.Setenv("POLYGONIO_API_KEY", "plain")
	assert.Equal(t, "plain", ResolveAPIKey("PolygonIO", "fallback"))
}

func TestServerConfig_Timeouts(t *testing.T) {
	var empty ServerConfig
	assert.Equal(t, 15*time.Second, empty.GetReadTimeout())
	assert.Equal(t, 30*time.Second, empty.GetWriteTimeout())
	assert.Equal(t, 60*time.Second, empty.GetIdleTimeout())
	assert.Equal(t, 10*time.Second, empty.GetShutdownTimeout())

	c := ServerConfig{Host: "127.0.0.1", Port: 9000, ReadTimeout: "5s", WriteTimeout: "bogus", ShutdownTimeout: "2s"}
	assert.Equal(t, "127.0.0.1:9000", c.Addr())
	assert.Equal(t, 5*time.Second, c.GetReadTimeout())
	assert.Equal(t, 30*time.Second, c.GetWriteTimeout())
	assert.Equal(t, 2*time.Second, c.GetShutdownTimeout())
}
