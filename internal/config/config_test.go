package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_MemoryDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, HoldStoreMemory, cfg.HoldStore)
	assert.Equal(t, ShowLockLocal, cfg.ShowLock)
	assert.Equal(t, 300*time.Second, cfg.HoldTTL)
	assert.False(t, cfg.ReleaseHoldsOnDisconnect)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 64, cfg.WSSendBuffer)
	assert.False(t, cfg.NeedsRedis())
}

func TestParse_MySQLRequiresDB(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "mysql")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_HOST", "")

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_USER")
	assert.Contains(t, err.Error(), "DB_HOST")
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HOLD_STORE", "Redis")
	t.Setenv("SHOW_LOCK", "redis")
	t.Setenv("HOLD_TTL", "2s")
	t.Setenv("RELEASE_HOLDS_ON_DISCONNECT", "yes")
	t.Setenv("RABBITMQ_URL", "")
	t.Setenv("AMQP_URL", "amqp://broker:5672/")
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, HoldStoreRedis, cfg.HoldStore)
	assert.Equal(t, 2*time.Second, cfg.HoldTTL)
	assert.True(t, cfg.ReleaseHoldsOnDisconnect)
	assert.Equal(t, "amqp://broker:5672/", cfg.RabbitURL)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.True(t, cfg.NeedsRedis())
}

func TestParse_RejectsUnknownBackends(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("HOLD_STORE", "etcd")

	_, err := Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
	assert.Contains(t, err.Error(), "HOLD_STORE")
}

func TestEnvDur_AcceptsSeconds(t *testing.T) {
	t.Setenv("X_DUR", "300")
	assert.Equal(t, 300*time.Second, envDur("X_DUR", time.Second))
	t.Setenv("X_DUR", "bogus")
	assert.Equal(t, time.Second, envDur("X_DUR", time.Second))
}

func TestLoadRateLimitConfig_Clamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "1m")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	rl := LoadRateLimitConfig()
	assert.Equal(t, 1, rl.Capacity)
	assert.Equal(t, 5*time.Minute, rl.TTL)
}
