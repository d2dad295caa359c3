package extractor

import (
	"context"
	"errors"
	"testing"

	"github.com/raaihank/llm-pseudonymizer/internal/logger"
	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

type countingExtractor struct {
	calls    int
	entities []privacy.Entity
	err      error
}

func (c *countingExtractor) Name() string { return "counting" }

func (c *countingExtractor) Extract(context.Context, string) ([]privacy.Entity, error) {
	c.calls++
	return c.entities, c.err
}

func TestCachedExtractor(t *testing.T) {
	ctx := context.Background()
	entities := []privacy.Entity{{Text: "Lisbon", Type: privacy.EntityLocation}}

	t.Run("MissThenHit", func(t *testing.T) {
		inner := &countingExtractor{entities: entities}
		cache := newStubCache()
		ext := NewCachedExtractor(inner, cache, logger.NewNop())

		for i := 0; i < 3; i++ {
			got, err := ext.Extract(ctx, "I live in Lisbon")
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(got) != 1 || got[0] != entities[0] {
				t.Errorf("Unexpected entities: %+v", got)
			}
		}
		if inner.calls != 1 {
			t.Errorf("Expected 1 backend call, got %d", inner.calls)
		}
		if _, ok := cache.entries["counting|I live in Lisbon"]; !ok {
			t.Error("Expected entry keyed by extractor name and text")
		}
		if ext.Name() != "counting" {
			t.Errorf("Name should be delegated, got %s", ext.Name())
		}
	})

	t.Run("ErrorsNotCached", func(t *testing.T) {
		inner := &countingExtractor{err: ErrUnavailable}
		cache := newStubCache()
		ext := NewCachedExtractor(inner, cache, logger.NewNop())

		if _, err := ext.Extract(ctx, "text"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("Expected ErrUnavailable, got %v", err)
		}
		if cache.sets != 0 {
			t.Error("Failures must not be cached")
		}
	})

	t.Run("CacheFailuresFallThrough", func(t *testing.T) {
		inner := &countingExtractor{entities: entities}
		cache := newStubCache()
		cache.getErr = errors.New("connection refused")
		cache.setErr = errors.New("connection refused")
		ext := NewCachedExtractor(inner, cache, logger.NewNop())

		got, err := ext.Extract(ctx, "I live in Lisbon")
		if err != nil {
			t.Fatalf("Cache failures must not fail extraction: %v", err)
		}
		if len(got) != 1 || inner.calls != 1 {
			t.Errorf("Expected backend result, got %+v after %d calls", got, inner.calls)
		}
	})
}
