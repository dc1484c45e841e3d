package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Backend.Driver)
	assert.Equal(t, 10, cfg.Pool.Size)
	assert.Equal(t, 50, cfg.Pool.MaxWaiters)
	assert.Equal(t, 10*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 70.0, cfg.Pool.WarningPct)
	assert.Equal(t, 90.0, cfg.Pool.CriticalPct)
	assert.Equal(t, 5, cfg.OrderSubmit.Limit)
	assert.Equal(t, time.Minute, cfg.OrderSubmit.Window)
	assert.Equal(t, 3*time.Second, cfg.Sync.Interval)
	assert.Empty(t, cfg.Sync.Targets)
	assert.Equal(t, "order_items", cfg.Tables.OrderItems)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POOL_SIZE", "4")
	t.Setenv("POOL_ACQUIRE_TIMEOUT", "250ms")
	t.Setenv("SYNC_TARGETS", "cafe-1, cafe-2")
	t.Setenv("BACKEND_DRIVER", "DynamoDB")
	t.Setenv("RATELIMIT_ORDER_SUBMIT_LIMIT", "2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pool.Size)
	assert.Equal(t, 250*time.Millisecond, cfg.Pool.AcquireTimeout)
	assert.Equal(t, []string{"cafe-1", "cafe-2"}, cfg.Sync.Targets)
	assert.Equal(t, DriverDynamoDB, cfg.Backend.Driver)
	assert.Equal(t, 2, cfg.OrderSubmit.Limit)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  size: 3
  max_waiters: 0
sync:
  targets:
    - cafe-north
    - cafe-south
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pool.Size)
	assert.Equal(t, 0, cfg.Pool.MaxWaiters)
	assert.Equal(t, []string{"cafe-north", "cafe-south"}, cfg.Sync.Targets)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"zero pool":         {"POOL_SIZE": "0"},
		"negative waiters":  {"POOL_MAX_WAITERS": "-1"},
		"thresholds":        {"POOL_WARNING_PCT": "95"},
		"unknown driver":    {"BACKEND_DRIVER": "sqlite"},
		"postgres no dsn":   {"BACKEND_DRIVER": "postgres"},
		"zero submit limit": {"RATELIMIT_ORDER_SUBMIT_LIMIT": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
