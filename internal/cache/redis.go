package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

// EntityCache stores extractor results in Redis
type EntityCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewEntityCache connects to Redis and verifies the connection
func NewEntityCache(config *Config, logger *zap.Logger) (*EntityCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	cache := newEntityCache(redis.NewClient(opts), config, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.Ping(ctx); err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cache.logger.Info("Entity cache initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

func newEntityCache(client *redis.Client, config *Config, logger *zap.Logger) *EntityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityCache{client: client, config: config, logger: logger}
}

// Ping tests the Redis connection
func (ec *EntityCache) Ping(ctx context.Context) error {
	return ec.client.Ping(ctx).Err()
}

// Key derives the cache key for text processed by the extractor named namespace.
// Only a digest of the text reaches Redis.
func (ec *EntityCache) Key(namespace, text string) string {
	hasher := sha256.New()
	hasher.Write([]byte(namespace))
	hasher.Write([]byte{0})
	hasher.Write([]byte(text))

	return fmt.Sprintf("%s:entities:%s", ec.config.KeyPrefix, hex.EncodeToString(hasher.Sum(nil)))
}

// Get returns the cached entities for key. found is false on a miss.
func (ec *EntityCache) Get(ctx context.Context, key string) ([]privacy.Entity, bool, error) {
	data, err := ec.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		ec.stats.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		ec.stats.errors.Add(1)
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	var cached CachedEntities
	if err := json.Unmarshal(data, &cached); err != nil {
		ec.stats.errors.Add(1)
		ec.logger.Error("Failed to unmarshal cached entities", zap.Error(err))
		ec.client.Del(ctx, key)
		return nil, false, nil
	}

	ec.stats.hits.Add(1)
	ec.logger.Debug("Cache hit", zap.String("key", key), zap.Int("entities", len(cached.Entities)))

	if cached.Entities == nil {
		cached.Entities = []privacy.Entity{}
	}
	return cached.Entities, true, nil
}

// Set stores entities under key with the configured TTL
func (ec *EntityCache) Set(ctx context.Context, key string, entities []privacy.Entity) error {
	data, err := json.Marshal(CachedEntities{
		Entities: entities,
		CachedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal entities for caching: %w", err)
	}

	if err := ec.client.Set(ctx, key, data, ec.config.DefaultTTL).Err(); err != nil {
		ec.stats.errors.Add(1)
		return fmt.Errorf("failed to cache entities: %w", err)
	}

	return nil
}

// Stats returns hit/miss counters. Redis figures are included when the server answers.
func (ec *EntityCache) Stats(ctx context.Context) *CacheStats {
	stats := &CacheStats{
		Hits:   ec.stats.hits.Load(),
		Misses: ec.stats.misses.Load(),
		Errors: ec.stats.errors.Load(),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	info, err := ec.client.Info(ctx, "memory").Result()
	if err != nil {
		ec.logger.Debug("Redis info unavailable", zap.Error(err))
		return stats
	}

	for _, line := range strings.Split(info, "\r\n") {
		if memStr, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
				stats.MemoryUsage = mem
			}
		}
	}

	if keys, err := ec.client.DBSize(ctx).Result(); err == nil {
		stats.TotalKeys = keys
	}

	return stats
}

// Clear removes all cached entries under the key prefix
func (ec *EntityCache) Clear(ctx context.Context) error {
	iter := ec.client.Scan(ctx, 0, ec.config.KeyPrefix+":entities:*", 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := ec.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	ec.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (ec *EntityCache) Close() error {
	if ec.client != nil {
		return ec.client.Close()
	}
	return nil
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}

	userPart := url[:at]
	userParts := strings.Split(userPart, ":")
	if len(userParts) >= 3 {
		userParts[len(userParts)-1] = "***"
		userPart = strings.Join(userParts, ":")
	}

	return userPart + url[at:]
}
