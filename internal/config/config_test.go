package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 1000, cfg.CommandQueueMaxSize)
	assert.Equal(t, 2, cfg.CommandProcessorWorkers)
	assert.Equal(t, 8181, cfg.ShuttleListenerPort)
	assert.Equal(t, 20*time.Second, cfg.TCPReadTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := `
shuttles:
  SH-1:
    host: 10.0.0.5
    port: 2000
stock_to_shuttle:
  A1: ["SH-1"]
command_queue_max_size: 50
redis:
  host: redis.internal
  port: 6380
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.CommandQueueMaxSize)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, "10.0.0.5", cfg.Shuttles["SH-1"].Host)
	assert.Equal(t, []string{"SH-1"}, cfg.StockToShuttle["A1"])
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "env-redis")
	t.Setenv("COMMAND_QUEUE_MAX_SIZE", "77")

	cfg := LoadFromEnv()
	assert.Equal(t, "env-redis", cfg.Redis.Host)
	assert.Equal(t, 77, cfg.CommandQueueMaxSize)
}

func TestLoadFallsBackToEnvWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().ShuttleListenerPort, cfg.ShuttleListenerPort)
}
