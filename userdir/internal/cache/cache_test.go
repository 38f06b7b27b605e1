package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bugtracker/history-stack/common/config"
	"github.com/bugtracker/history-stack/common/rpc"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestUserCache_IsEnabled(t *testing.T) {
	tests := []struct {
		name     string
		cache    *UserCache
		expected bool
	}{
		{"with client", NewUserCache(&redis.Client{}, time.Minute), true},
		{"no client", NewUserCache(nil, time.Minute), false},
		{"nil cache", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cache.IsEnabled())
		})
	}
}

func TestUserCache_SetAndGet(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewUserCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetMany(ctx, []rpc.User{
		{ID: "u1", Username: "ana"},
		{ID: "u2", Username: "bo", Role: "developer"},
	}))
	assert.True(t, mr.Exists("users:record:u1"))
	assert.Equal(t, time.Minute, mr.TTL("users:record:u2"))

	hits, err := c.GetMany(ctx, []string{"u2", "u3", "u1"})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, "developer", hits["u2"].Role)
	assert.Equal(t, "ana", hits["u1"].Username)
}

func TestUserCache_Expiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewUserCache(client, 30*time.Second)
	ctx := context.Background()

	require.NoError(t, c.SetMany(ctx, []rpc.User{{ID: "u1", Username: "ana"}}))
	mr.FastForward(31 * time.Second)

	hits, err := c.GetMany(ctx, []string{"u1"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUserCache_InvalidateAndGarbage(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewUserCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetMany(ctx, []rpc.User{{ID: "u1", Username: "ana"}}))
	require.NoError(t, c.Invalidate(ctx, "u1"))
	require.NoError(t, mr.Set("users:record:u2", "not json"))

	hits, err := c.GetMany(ctx, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUserCache_Disabled(t *testing.T) {
	c := NewUserCache(nil, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetMany(ctx, []rpc.User{{ID: "u1"}}))
	hits, err := c.GetMany(ctx, []string{"u1"})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.NoError(t, c.Invalidate(ctx, "u1"))
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr() + "/0", PoolSize: 2})
	require.NoError(t, err)
	defer client.Close()
	assert.NoError(t, client.Ping(context.Background()).Err())

	_, err = NewClient(context.Background(), config.RedisConfig{URL: "://bad"})
	assert.Error(t, err)
}

func TestGetMany_ServerDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewUserCache(client, time.Minute)
	mr.Close()

	_, err := c.GetMany(context.Background(), []string{"u1"})
	assert.Error(t, err)
}
