// Package cache provides the pluggable read-through cache used in front of
// user and template lookups. The backend is chosen at startup from
// configuration: none, in-process LRU+TTL, shared memcached, or shared
// redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/courier-one/notification-dispatch/internal/config"
	"github.com/courier-one/notification-dispatch/internal/domain"
)

// New selects and constructs the configured cache backend.
func New(ctx context.Context, cfg config.CacheConfig) (domain.Cache, error) {
	switch cfg.Backend {
	case "lru":
		return NewLRU(cfg.LRUSize)
	case "memcache":
		return NewMemcache(cfg.MemcacheHost, cfg.MemcachePort, cfg.MemcacheTimeout), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL)
	case "", "none":
		return NewNoop(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Noop is the disabled cache: every get misses.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) Get(context.Context, string) ([]byte, error)              { return nil, nil }
func (*Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (*Noop) Delete(context.Context, string) error                     { return nil }

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// LRU is a bounded in-process cache. Entries past their TTL are treated as
// absent on read and removed lazily.
type LRU struct {
	entries *lru.Cache[string, lruEntry]
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		size = 2048
	}
	entries, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &LRU{entries: entries}, nil
}

func (c *LRU) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.After(time.Now()) {
		c.entries.Remove(key)
		return nil, nil
	}
	return entry.value, nil
}

func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	c.entries.Add(key, lruEntry{value: value, expiresAt: time.Now().Add(ttl)})
	return nil
}

func (c *LRU) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// Memcache is the shared memcached-backed cache.
type Memcache struct {
	client *memcache.Client
}

func NewMemcache(host string, port int, timeout time.Duration) *Memcache {
	client := memcache.New(fmt.Sprintf("%s:%d", host, port))
	client.Timeout = timeout
	return &Memcache{client: client}
}

func (c *Memcache) Get(_ context.Context, key string) ([]byte, error) {
	item, err := c.client.Get(key)
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, nil
		}
		return nil, fmt.Errorf("memcache get: %w", err)
	}
	return item.Value, nil
}

func (c *Memcache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: int32(ttl / time.Second),
	}); err != nil {
		return fmt.Errorf("memcache set: %w", err)
	}
	return nil
}

func (c *Memcache) Delete(_ context.Context, key string) error {
	if err := c.client.Delete(key); err != nil && err != memcache.ErrCacheMiss {
		return fmt.Errorf("memcache delete: %w", err)
	}
	return nil
}

// Redis is the shared redis-backed cache.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client; used by tests.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return value, nil
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *Redis) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (c *Redis) Close() error {
	return c.client.Close()
}

// Health checks the redis connection.
func (c *Redis) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
