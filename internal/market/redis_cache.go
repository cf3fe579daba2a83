package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/sharpefolio/internal/metrics"
	"github.com/ajitpratap0/sharpefolio/pkg/portfolio"
)

const historyKeyPrefix = "sharpefolio:history:"

// RedisHistoryCache caches aligned price histories keyed by source, assets
// and date range
type RedisHistoryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// historyCacheEntry is the cached form of a PriceHistory
type historyCacheEntry struct {
	Assets   []string    `json:"assets"`
	Dates    []time.Time `json:"dates,omitempty"`
	Closes   [][]float64 `json:"closes"`
	CachedAt time.Time   `json:"cached_at"`
}

// NewRedisHistoryCache creates a new Redis-based history cache
// If client is nil, returns nil (optional Redis support)
func NewRedisHistoryCache(client *redis.Client, ttl time.Duration) *RedisHistoryCache {
	if client == nil {
		return nil
	}

	if ttl == 0 {
		ttl = time.Hour
	}

	return &RedisHistoryCache{
		client: client,
		ttl:    ttl,
	}
}

// HistoryKey builds the cache key for a load request
func HistoryKey(source string, assets []string, start, end time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s:%s", historyKeyPrefix, source, strings.Join(assets, ","), keyDate(start), keyDate(end))
}

func keyDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.DateOnly)
}

// Get retrieves a history from cache
// Returns the history and true if found, or nil and false if not found or on error
func (c *RedisHistoryCache) Get(ctx context.Context, key string) (*portfolio.PriceHistory, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	// Use a short timeout for cache operations to prevent blocking
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
			metrics.RecordCacheRequest(metrics.CacheError)
		} else {
			metrics.RecordCacheRequest(metrics.CacheMiss)
		}
		return nil, false
	}

	var entry historyCacheEntry
	if err := json.Unmarshal(cached, &entry); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached history")
		metrics.RecordCacheRequest(metrics.CacheError)
		return nil, false
	}

	history, err := portfolio.NewPriceHistory(entry.Assets, entry.Dates, entry.Closes)
	if err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Cached history is invalid")
		metrics.RecordCacheRequest(metrics.CacheError)
		return nil, false
	}

	log.Debug().
		Str("key", key).
		Int("rows", history.Len()).
		Time("cached_at", entry.CachedAt).
		Msg("Cache hit for price history")
	metrics.RecordCacheRequest(metrics.CacheHit)

	return history, true
}

// Set stores a history in cache with the configured TTL
func (c *RedisHistoryCache) Set(ctx context.Context, key string, history *portfolio.PriceHistory) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	entry := historyCacheEntry{
		Assets:   history.Assets(),
		Dates:    history.Dates(),
		Closes:   history.Closes(),
		CachedAt: time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	// Use a short timeout for cache operations
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to cache price history")
		return err
	}

	log.Debug().
		Str("key", key).
		Int("rows", history.Len()).
		Dur("ttl", c.ttl).
		Msg("Cached price history")

	return nil
}

// Delete removes a single cached history
func (c *RedisHistoryCache) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	return c.client.Del(cacheCtx, key).Err()
}

// Clear removes all cached histories
func (c *RedisHistoryCache) Clear(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	iter := c.client.Scan(cacheCtx, 0, historyKeyPrefix+"*", 0).Iterator()
	count := 0

	for iter.Next(cacheCtx) {
		if err := c.client.Del(cacheCtx, iter.Val()).Err(); err != nil {
			log.Warn().
				Err(err).
				Str("key", iter.Val()).
				Msg("Failed to delete cache key")
		} else {
			count++
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan error: %w", err)
	}

	log.Info().
		Int("keys_deleted", count).
		Msg("Cleared history cache")

	return nil
}

// Health checks if the Redis connection is healthy
func (c *RedisHistoryCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}
