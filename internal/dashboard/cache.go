package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"requestanalytics/internal/metrics"
)

const (
	redisKeyPrefix = "request_analytics:dashboard:"

	// memoryCacheEntries caps in-process payloads; the oldest entry goes first.
	memoryCacheEntries = 512
)

// fetchFunc builds the payload a cache key stands for.
type fetchFunc func(ctx context.Context, key string) (*Payload, error)

// payloadCache memoizes dashboard payloads by key.
type payloadCache interface {
	Get(ctx context.Context, key string) (*Payload, error)
	Clear(ctx context.Context) error
	Close() error
}

// noCache always rebuilds. Used when the TTL is zero.
type noCache struct {
	fetch fetchFunc
}

func (c *noCache) Get(ctx context.Context, key string) (*Payload, error) {
	return c.fetch(ctx, key)
}

func (c *noCache) Clear(context.Context) error { return nil }

func (c *noCache) Close() error { return nil }

// blobStore holds encoded payloads. cartridge's cache.MemoryStore satisfies it
// as is; redisStore adapts a redis client.
type blobStore interface {
	Read(ctx context.Context, key string) ([]byte, bool)
	Write(ctx context.Context, key string, value []byte) error
	Clear(ctx context.Context) error
}

// blobCache encodes payloads as JSON into a blobStore. Concurrent misses for
// the same key collapse into one build; different keys build in parallel.
type blobCache struct {
	driver  string
	store   blobStore
	fetch   fetchFunc
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics

	closeOnce sync.Once
}

func newMemoryCache(logger *slog.Logger, ttl time.Duration, fetch fetchFunc, m *metrics.Metrics) *blobCache {
	store := cache.NewMemoryStore(
		cache.WithTTL(ttl),
		cache.WithMaxEntries(memoryCacheEntries),
		cache.WithCleanupInterval(max(ttl, time.Second)),
	)
	return &blobCache{driver: "memory", store: store, fetch: fetch, logger: logger, metrics: m}
}

func newRedisCache(client *redis.Client, ttl time.Duration, fetch fetchFunc, logger *slog.Logger, m *metrics.Metrics) *blobCache {
	store := &redisStore{client: client, ttl: ttl, logger: logger}
	return &blobCache{driver: "redis", store: store, fetch: fetch, logger: logger, metrics: m}
}

func (c *blobCache) Get(ctx context.Context, key string) (*Payload, error) {
	if payload, ok := c.lookup(ctx, key); ok {
		c.metrics.CacheLookup(c.driver, true)
		return payload, nil
	}
	c.metrics.CacheLookup(c.driver, false)

	val, err, _ := c.group.Do(key, func() (any, error) {
		if payload, ok := c.lookup(ctx, key); ok {
			return payload, nil
		}
		payload, err := c.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		c.save(ctx, key, payload)
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*Payload), nil
}

func (c *blobCache) lookup(ctx context.Context, key string) (*Payload, bool) {
	data, ok := c.store.Read(ctx, key)
	if !ok {
		return nil, false
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("Dashboard cache entry is corrupt", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	return &payload, true
}

func (c *blobCache) save(ctx context.Context, key string, payload *Payload) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("Dashboard cache marshal failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.store.Write(ctx, key, data); err != nil {
		c.logger.Warn("Dashboard cache write failed", slog.String("driver", c.driver), slog.String("key", key), slog.Any("error", err))
	}
}

func (c *blobCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Close stops the memory store's cleanup loop. The redis client is owned by
// the caller and stays open.
func (c *blobCache) Close() error {
	ms, ok := c.store.(*cache.MemoryStore)
	if !ok {
		return nil
	}
	var err error
	c.closeOnce.Do(func() { err = ms.Close() })
	return err
}

// redisStore shares payloads across instances.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func (s *redisStore) Read(ctx context.Context, key string) ([]byte, bool) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Dashboard cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return nil, false
	}
	return data, true
}

func (s *redisStore) Write(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, redisKeyPrefix+key, value, s.ttl).Err()
}

func (s *redisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var deleted int
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("error deleting cache key %s: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning dashboard cache: %w", err)
	}
	s.logger.Info("Dashboard cache cleared", slog.Int("keys_deleted", deleted))
	return nil
}

// NewRedisClient connects to Redis and verifies the connection with a PING.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
