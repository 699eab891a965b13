package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "")
	t.Setenv("PORT", "")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, CacheMemory, cfg.CacheBackend)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.FetchConcurrency)
	assert.Equal(t, 10, cfg.FetchMaxPerPass)
	assert.Equal(t, 200*time.Millisecond, cfg.FetchBatchDelay)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.MinVisibilityInterval)
	assert.Equal(t, 10.0, cfg.MaxCameraDistance)
	assert.Equal(t, 10*time.Minute, cfg.PreloadTTL)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("FETCH_MAX_PER_PASS", "50")
	t.Setenv("FETCH_BATCH_DELAY", "1s")
	t.Setenv("VISIBILITY_MAX_CAMERA_DISTANCE", "12.5")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, CacheRedis, cfg.CacheBackend)
	assert.Equal(t, 50, cfg.FetchMaxPerPass)
	assert.Equal(t, time.Second, cfg.FetchBatchDelay)
	assert.Equal(t, 12.5, cfg.MaxCameraDistance)
}

func TestFromEnvErrors(t *testing.T) {
	cases := map[string][2]string{
		"bad duration":      {"CACHE_TTL", "forever"},
		"bad float":         {"VISIBILITY_MAX_CAMERA_DISTANCE", "far"},
		"unknown backend":   {"CACHE_BACKEND", "memcached"},
		"postgres sans dsn": {"CACHE_BACKEND", "postgres"},
		"zero concurrency":  {"FETCH_CONCURRENCY", "0"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("POSTGRES_DSN", "")
			t.Setenv(kv[0], kv[1])
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.DotEnvErr, "no .env in an empty directory")

	require.NoError(t, os.Unsetenv("GRID_MAX_CELLS"))
	t.Cleanup(func() { _ = os.Unsetenv("GRID_MAX_CELLS") })
	require.NoError(t, os.WriteFile(".env", []byte("GRID_MAX_CELLS=4096\n"), 0o600))

	cfg, err = Load()
	require.NoError(t, err)
	assert.NoError(t, cfg.DotEnvErr)
	assert.Equal(t, 4096, cfg.MaxCells)
}
