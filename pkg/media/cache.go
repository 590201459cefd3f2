package media

import (
	"context"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"wacompose/internal/errors"
	"wacompose/internal/models"
	"wacompose/pkg/whatsapp/types"

	"github.com/redis/go-redis/v9"
)

// UploadCache remembers hosted media by CacheKey. Get returns
// errors.ErrCacheMiss when nothing usable is stored.
type UploadCache interface {
	Name() string
	Get(ctx context.Context, key string) (*types.UploadResult, error)
	Set(ctx context.Context, key string, result *types.UploadResult) error
}

// CacheKey scopes a content fingerprint by media type
func CacheKey(mediaType types.MediaType, fingerprint []byte) string {
	return string(mediaType) + ":" + hex.EncodeToString(fingerprint)
}

type memoryEntry struct {
	result    types.UploadResult
	expiresAt time.Time
}

// MemoryUploadCache is a process-local TTL map. A zero TTL keeps entries
// for the life of the cache.
type MemoryUploadCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryUploadCache(ttl time.Duration) *MemoryUploadCache {
	return &MemoryUploadCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryUploadCache) Name() string { return models.UploadCacheMemory }

func (c *MemoryUploadCache) Get(_ context.Context, key string) (*types.UploadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, errors.ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, errors.ErrCacheMiss
	}
	result := entry.result
	return &result, nil
}

func (c *MemoryUploadCache) Set(_ context.Context, key string, result *types.UploadResult) error {
	entry := memoryEntry{result: *result}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

// PurgeExpired drops entries past their TTL and returns how many were removed
func (c *MemoryUploadCache) PurgeExpired(_ context.Context) (int64, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int64
	for key, entry := range c.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryUploadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisUploadCache shares upload results between processes
type RedisUploadCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient opens a client for cfg
func NewRedisClient(cfg models.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: missing addr")
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}), nil
}

func NewRedisUploadCache(client *redis.Client, prefix string, ttl time.Duration) *RedisUploadCache {
	return &RedisUploadCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisUploadCache) Name() string { return models.UploadCacheRedis }

func (c *RedisUploadCache) key(key string) string {
	return c.prefix + "upload:" + key
}

func (c *RedisUploadCache) Get(ctx context.Context, key string) (*types.UploadResult, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var result types.UploadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("redis decode: %w", err)
	}
	return &result, nil
}

func (c *RedisUploadCache) Set(ctx context.Context, key string, result *types.UploadResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// NoopUploadCache disables deduplication across calls
type NoopUploadCache struct{}

func (NoopUploadCache) Name() string { return models.UploadCacheNone }

func (NoopUploadCache) Get(context.Context, string) (*types.UploadResult, error) {
	return nil, errors.ErrCacheMiss
}

func (NoopUploadCache) Set(context.Context, string, *types.UploadResult) error { return nil }
