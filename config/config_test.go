package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-metrics/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "metrics.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 30*time.Second, cfg.Engine.QueryTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.Warmer.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: a config file and an environment override
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "fm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: ./data/metrics.db
engine:
  workers: 4
  query_timeout: 5s
warmer:
  enabled: true
  interval: 10m
`), 0o600))
	t.Setenv("FM_ENGINE_WORKERS", "16")
	t.Setenv("FM_LOG_FORMAT", "console")

	// WHEN
	cfg, err := config.Load(path)
	require.NoError(t, err)

	// THEN: env beats file, file beats defaults
	assert.Equal(t, 16, cfg.Engine.Workers)
	assert.Equal(t, 5*time.Second, cfg.Engine.QueryTimeout)
	assert.Equal(t, "./data/metrics.db", cfg.Database.Path)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Warmer.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Warmer.Interval)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FM_CACHE_TTL=2m\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FM_CACHE_TTL") })

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("FM_ENGINE_WORKERS", "0")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "engine.workers")

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
