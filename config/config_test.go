package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"API_BASE_URL", "AUTH_TOKEN", "BOARD_GROUP_ID", "REALTIME_TRANSPORT", "REDIS_URL",
	"RECONNECT_BASE_DELAY", "RECONNECT_MAX_DELAY", "RECONNECT_MAX_ATTEMPTS", "RECONNECT_PAUSE",
	"DIAL_TIMEOUT", "BOARD_PAGE_SIZE", "BOARD_CACHE_TTL", "EVENT_HISTORY_SIZE", "METRICS_PORT", "DEBUG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_BASE_URL", "https://board.example.com")
	t.Setenv("BOARD_GROUP_ID", "g1")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "https://board.example.com", cfg.APIBaseURL)
	assert.Equal(t, "g1", cfg.GroupID)
	assert.Equal(t, TransportWebSocket, cfg.Transport)
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 10, cfg.ReconnectMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectPause)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.Equal(t, 10, cfg.PageSize)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, 50, cfg.EventHistorySize)
	assert.Empty(t, cfg.MetricsPort)
	assert.False(t, cfg.Debug)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_BASE_URL", "http://localhost:8080")
	t.Setenv("BOARD_GROUP_ID", "g2")
	t.Setenv("REALTIME_TRANSPORT", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("RECONNECT_BASE_DELAY", "250ms")
	t.Setenv("BOARD_PAGE_SIZE", "25")
	t.Setenv("METRICS_PORT", "9100")
	t.Setenv("DEBUG", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, TransportRedis, cfg.Transport)
	assert.Equal(t, 3, cfg.ReconnectMaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectBaseDelay)
	assert.Equal(t, 25, cfg.PageSize)
	assert.Equal(t, "9100", cfg.MetricsPort)
	assert.True(t, cfg.Debug)
}

func TestFromEnvRejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOARD_PAGE_SIZE", "0")
	t.Setenv("RECONNECT_PAUSE", "soon")
	t.Setenv("REALTIME_TRANSPORT", "carrier-pigeon")
	t.Setenv("METRICS_PORT", "99999")
	t.Setenv("DEBUG", "maybe")

	_, err := FromEnv()
	require.Error(t, err)
	for _, want := range []string{"API_BASE_URL", "BOARD_GROUP_ID", "BOARD_PAGE_SIZE", "RECONNECT_PAUSE", "REALTIME_TRANSPORT", "METRICS_PORT", "DEBUG"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestFromEnvRedisTransportNeedsURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_BASE_URL", "http://localhost:8080")
	t.Setenv("BOARD_GROUP_ID", "g1")
	t.Setenv("REALTIME_TRANSPORT", "redis")

	_, err := FromEnv()
	require.ErrorContains(t, err, "REDIS_URL")
}

func TestLoadReadsDotEnv(t *testing.T) {
	// .env values only fill variables absent from the environment, so clear
	// them outright; t.Setenv restores the originals afterwards.
	clearEnv(t)
	for _, k := range allKeys {
		require.NoError(t, os.Unsetenv(k))
	}
	t.Setenv("BOARD_GROUP_ID", "from-env")

	path := filepath.Join(t.TempDir(), "board.env")
	require.NoError(t, os.WriteFile(path, []byte("API_BASE_URL=https://dotenv.example.com\nBOARD_GROUP_ID=from-file\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example.com", cfg.APIBaseURL)
	assert.Equal(t, "from-env", cfg.GroupID)
}

func TestLoadIgnoresMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_BASE_URL", "http://localhost")
	t.Setenv("BOARD_GROUP_ID", "g1")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}
