package cache

import (
	"time"

	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

// CachedEntities is the value stored for one extracted text
type CachedEntities struct {
	Entities []privacy.Entity `json:"entities"`
	CachedAt time.Time        `json:"cached_at"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Errors      int64   `json:"errors"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	RedisURL       string
	MaxConnections int
	MinIdleConns   int
	DefaultTTL     time.Duration
	KeyPrefix      string
}
