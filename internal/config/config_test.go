package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "https://places.googleapis.com/v1", cfg.Places.BaseURL)
	assert.Equal(t, 10, cfg.Places.TimeoutSecs)
	assert.Empty(t, cfg.Places.APIKey)
	assert.Equal(t, 200, cfg.Sync.MaxPlaces)
	assert.Equal(t, 1000, cfg.Sync.MaxRequests)
	assert.InDelta(t, 50.0, cfg.Sync.MaxCostUSD, 0.001)
	assert.InDelta(t, 25.0, cfg.Sync.CostAlertUSD, 0.001)
	assert.Equal(t, 5, cfg.Sync.PhotoCap)
	assert.Equal(t, 168, cfg.Sync.IntervalHours)
	assert.Equal(t, 200, cfg.Sync.RequestDelayMS)
	assert.Equal(t, 30, cfg.Sync.CooldownSecs)
	assert.Equal(t, 3, cfg.Sync.DetailWorkers)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  sqlite_path: /tmp/places.db
places:
  api_key: key-from-file
sync:
  max_places: 50
  provinces:
    - teruel
    - huesca
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/places.db", cfg.Store.SQLitePath)
	assert.Equal(t, "key-from-file", cfg.Places.APIKey)
	assert.Equal(t, 50, cfg.Sync.MaxPlaces)
	assert.Equal(t, []string{"teruel", "huesca"}, cfg.Sync.Provinces)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset keys keep defaults.
	assert.Equal(t, 1000, cfg.Sync.MaxRequests)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("CATALOG_PLACES_API_KEY", "key-from-env")
	t.Setenv("CATALOG_SYNC_MAX_REQUESTS", "42")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.Places.APIKey)
	assert.Equal(t, 42, cfg.Sync.MaxRequests)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	assert.Error(t, InitLogger(LogConfig{Level: "bogus", Format: "json"}))
}
