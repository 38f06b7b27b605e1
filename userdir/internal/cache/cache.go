// Package cache keeps resolved user records in Redis.
//
// Redis Key Structure:
//
//	users:record:{user_id} - JSON user record (expires after the configured TTL)
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bugtracker/history-stack/common/config"
	"github.com/bugtracker/history-stack/common/rpc"
)

const keyPrefix = "users:record:"

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.MaxRetries > 0 {
		opt.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// UserCache stores user records with a TTL. A UserCache without a client is disabled:
// every lookup misses and writes are dropped.
type UserCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewUserCache(client *redis.Client, ttl time.Duration) *UserCache {
	return &UserCache{redis: client, ttl: ttl}
}

// IsEnabled returns whether the cache is backed by Redis.
func (c *UserCache) IsEnabled() bool {
	return c != nil && c.redis != nil
}

// GetMany returns the cached records among ids keyed by id.
func (c *UserCache) GetMany(ctx context.Context, ids []string) (map[string]rpc.User, error) {
	hits := make(map[string]rpc.User)
	if !c.IsEnabled() || len(ids) == 0 {
		return hits, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	vals, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return hits, fmt.Errorf("read cached users: %w", err)
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var u rpc.User
		if err := json.Unmarshal([]byte(s), &u); err != nil {
			continue
		}
		hits[ids[i]] = u
	}
	return hits, nil
}

// SetMany caches users in one round trip.
func (c *UserCache) SetMany(ctx context.Context, users []rpc.User) error {
	if !c.IsEnabled() || len(users) == 0 {
		return nil
	}

	pipe := c.redis.Pipeline()
	for _, u := range users {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode user %s: %w", u.ID, err)
		}
		pipe.Set(ctx, key(u.ID), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache users: %w", err)
	}
	return nil
}

// Invalidate drops the cached record of id.
func (c *UserCache) Invalidate(ctx context.Context, id string) error {
	if !c.IsEnabled() {
		return nil
	}
	if err := c.redis.Del(ctx, key(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("invalidate user %s: %w", id, err)
	}
	return nil
}

func key(id string) string {
	return keyPrefix + id
}
