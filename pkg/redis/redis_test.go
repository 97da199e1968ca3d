package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/scengen/pkg/config"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Enabled: false,
		},
	}
	client, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(disabledClient(t), "test", 0)
	ctx := context.Background()

	var result string
	found, err := cache.Get(ctx, "key", &result)
	require.NoError(t, err)
	assert.False(t, found, "cache miss when Redis disabled")

	assert.NoError(t, cache.Set(ctx, "key", "value"))
	assert.NoError(t, cache.Delete(ctx, "key"))
	assert.Equal(t, TTLCalibration, cache.ttl)
}

func TestLock_Disabled(t *testing.T) {
	lock := NewLock(disabledClient(t), "test")

	release, ok, err := lock.Acquire(context.Background(), "refresh", 0)
	require.NoError(t, err)
	assert.True(t, ok, "lease is always granted without Redis")
	assert.NoError(t, release(context.Background()))
}

func TestCacheKeys(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"calibration", CalibrationKey("abcdef0123456789ffff", "1234"), "calibration:abcdef0123456789:1234"},
		{"run summary", RunSummaryKey("run-1"), "run:summary:run-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.got)
		})
	}
}

func TestNewFromRedis_Nil(t *testing.T) {
	assert.False(t, NewFromRedis(nil).Enabled())
}
