package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"HOST", "PORT", "DB_PATH", "RULES_PATH", "LOG_LEVEL", "BATCH_SIZE",
		"PROCESS_INTERVAL", "API_KEY", "DASHBOARD_TOKEN", "METRICS_ADDR",
		"CORS_ORIGINS", "MAX_QUEUE_LENGTH",
	} {
		t.Setenv(envPrefix+name, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(envPrefix+"DB_PATH", filepath.Join(dir, "data.db"))
	t.Setenv(envPrefix+"RULES_PATH", filepath.Join(dir, "rules"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 3827, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 10000, cfg.MaxQueueLength)
	assert.NotEmpty(t, cfg.CORSOrigins)
	assert.Equal(t, "127.0.0.1:3827", cfg.Addr())
}

func TestLoad_OverridesAndInvalidFallback(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(envPrefix+"DB_PATH", filepath.Join(dir, "data.db"))
	t.Setenv(envPrefix+"RULES_PATH", filepath.Join(dir, "rules"))
	t.Setenv(envPrefix+"HOST", "0.0.0.0")
	t.Setenv(envPrefix+"PORT", "not-a-number")
	t.Setenv(envPrefix+"CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv(envPrefix+"MAX_QUEUE_LENGTH", "-5")
	t.Setenv(envPrefix+"API_KEY", "collector-secret")
	t.Setenv(envPrefix+"DASHBOARD_TOKEN", "dashboard-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	// PORT was unparseable, falls back to the default.
	assert.Equal(t, 3827, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	// Non-positive MAX_QUEUE_LENGTH is rejected, default retained.
	assert.Equal(t, 10000, cfg.MaxQueueLength)
	assert.Equal(t, "collector-secret", cfg.CollectorAPIKey)
	assert.Equal(t, "dashboard-secret", cfg.DashboardToken)
}
