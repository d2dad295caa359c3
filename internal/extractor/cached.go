package extractor

import (
	"context"

	"go.uber.org/zap"

	"github.com/raaihank/llm-pseudonymizer/internal/logger"
	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

// Cache stores extraction results keyed by extractor name and text
type Cache interface {
	Get(ctx context.Context, key string) ([]privacy.Entity, bool, error)
	Set(ctx context.Context, key string, entities []privacy.Entity) error
	Key(namespace, text string) string
}

// CachedExtractor serves repeated texts from a cache. Cache failures are logged and
// never fail the extraction; errors from the wrapped extractor are never cached.
type CachedExtractor struct {
	next   Extractor
	cache  Cache
	logger *logger.Logger
}

// NewCachedExtractor wraps next with cache
func NewCachedExtractor(next Extractor, cache Cache, log *logger.Logger) *CachedExtractor {
	return &CachedExtractor{next: next, cache: cache, logger: log}
}

// Name implements Extractor
func (c *CachedExtractor) Name() string {
	return c.next.Name()
}

// Extract implements Extractor
func (c *CachedExtractor) Extract(ctx context.Context, text string) ([]privacy.Entity, error) {
	key := c.cache.Key(c.next.Name(), text)

	entities, found, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache lookup failed", zap.Error(err))
	} else if found {
		return entities, nil
	}

	entities, err = c.next.Extract(ctx, text)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, entities); err != nil {
		c.logger.Warn("Failed to cache entities", zap.Error(err))
	}

	return entities, nil
}
