package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ElementareTeilchen/neos-externalRedirect/internal/redirect"
)

// RoutingCache stores resolved routes. Entries carry tags so everything
// derived from one node can be dropped at once.
type RoutingCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, tags []string) error
	Invalidate(ctx context.Context, tag string) error
	Close() error
}

type MemoryRoutingCache struct {
	mu      sync.Mutex
	entries map[string]string
	tags    map[string]map[string]struct{}
}

func NewMemoryRoutingCache() *MemoryRoutingCache {
	return &MemoryRoutingCache{
		entries: map[string]string{},
		tags:    map[string]map[string]struct{}{},
	}
}

func (c *MemoryRoutingCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.entries[key]
	return value, ok, nil
}

func (c *MemoryRoutingCache) Set(_ context.Context, key, value string, tags []string) error {
	if strings.TrimSpace(key) == "" {
		return redirect.ErrInvalidInput
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = map[string]struct{}{}
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

func (c *MemoryRoutingCache) Invalidate(_ context.Context, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.tags[tag] {
		delete(c.entries, key)
	}
	delete(c.tags, tag)
	return nil
}

func (c *MemoryRoutingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryRoutingCache) Close() error {
	return nil
}

const (
	redisRouteKeyPrefix = "externalredirect:route:"
	redisTagKeyPrefix   = "externalredirect:tag:"
)

type RedisRoutingCache struct {
	client *redis.Client
}

func NewRedisRoutingCache(dsn string) (*RedisRoutingCache, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisRoutingCacheFromClient(redis.NewClient(opts)), nil
}

func NewRedisRoutingCacheFromClient(client *redis.Client) *RedisRoutingCache {
	return &RedisRoutingCache{client: client}
}

// Ping checks that the server is reachable.
func (c *RedisRoutingCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	return nil
}

func (c *RedisRoutingCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, redisRouteKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get route %s: %w", key, err)
	}
	return value, true, nil
}

func (c *RedisRoutingCache) Set(ctx context.Context, key, value string, tags []string) error {
	if strings.TrimSpace(key) == "" {
		return redirect.ErrInvalidInput
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisRouteKeyPrefix+key, value, 0)
		for _, tag := range tags {
			pipe.SAdd(ctx, redisTagKeyPrefix+tag, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set route %s: %w", key, err)
	}
	return nil
}

func (c *RedisRoutingCache) Invalidate(ctx context.Context, tag string) error {
	tagKey := redisTagKeyPrefix + tag
	keys, err := c.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		return fmt.Errorf("read tag %s: %w", tag, err)
	}
	doomed := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		doomed = append(doomed, redisRouteKeyPrefix+key)
	}
	doomed = append(doomed, tagKey)
	if err := c.client.Del(ctx, doomed...).Err(); err != nil {
		return fmt.Errorf("invalidate tag %s: %w", tag, err)
	}
	return nil
}

func (c *RedisRoutingCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
