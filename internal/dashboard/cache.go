package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"leadline/internal/config"
	"leadline/internal/overdue"
)

// Cache stores summaries for a bounded time. A miss is (zero, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (overdue.Summary, bool, error)
	Set(ctx context.Context, key string, s overdue.Summary, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memItem struct {
	summary overdue.Summary
	expires time.Time
}

// MemoryCache is the in-process default.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memItem
	Now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string]memItem{}}
}

func (c *MemoryCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *MemoryCache) Get(_ context.Context, key string) (overdue.Summary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return overdue.Summary{}, false, nil
	}
	if !c.now().Before(it.expires) {
		delete(c.items, key)
		return overdue.Summary{}, false, nil
	}
	return it.summary, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, s overdue.Summary, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = map[string]memItem{}
	}
	now := c.now()
	// Keys from earlier generations are never read again, so expiry on read
	// alone would keep them forever.
	for k, it := range c.items {
		if !now.Before(it.expires) {
			delete(c.items, k)
		}
	}
	c.items[key] = memItem{summary: s, expires: now.Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// RedisCache shares summaries between server replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(cfg config.Redis) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: "leadline:",
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (overdue.Summary, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return overdue.Summary{}, false, nil
	}
	if err != nil {
		return overdue.Summary{}, false, err
	}
	var s overdue.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return overdue.Summary{}, false, err
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, s overdue.Summary, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NewCache picks the backend named by the dashboard config.
func NewCache(cfg config.Dashboard) Cache {
	if cfg.Redis.Enabled {
		return NewRedisCache(cfg.Redis)
	}
	return NewMemoryCache()
}
