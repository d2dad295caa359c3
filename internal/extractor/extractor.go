// Package extractor turns raw text into typed PII entities. Backends are
// replaceable: a local language model reached over the Ollama API, or a set of
// regular expressions for structured identifiers. Results can be cached in Redis.
package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/raaihank/llm-pseudonymizer/internal/config"
	"github.com/raaihank/llm-pseudonymizer/internal/logger"
	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

var (
	// ErrUnavailable is returned when the extraction backend cannot be reached or answers with a failure status
	ErrUnavailable = errors.New("entity extractor unavailable")
	// ErrMalformedResponse is returned when the backend answer cannot be read as an entity list
	ErrMalformedResponse = errors.New("malformed extractor response")
)

// Extractor detects PII entities in text
type Extractor interface {
	Extract(ctx context.Context, text string) ([]privacy.Entity, error)
	// Name identifies the backend and its settings; results are only comparable between equal names.
	Name() string
}

// entitiesPayload is the structured answer expected from a model
type entitiesPayload struct {
	Entities []privacy.Entity `json:"entities"`
}

// ParseEntities reads a model answer of the form {"entities": [{"text": ..., "type": ...}]}.
// Markdown code fences around the JSON are removed first. An unknown entity type or an
// undecodable payload is an error; it is never treated as "no entities".
func ParseEntities(raw string) ([]privacy.Entity, error) {
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedResponse)
	}

	var payload entitiesPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	entities := make([]privacy.Entity, 0, len(payload.Entities))
	for i, e := range payload.Entities {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		// A missing or null type never reaches UnmarshalText.
		if !e.Type.Valid() {
			return nil, fmt.Errorf("%w: entity %d has no valid type", ErrMalformedResponse, i)
		}
		entities = append(entities, e)
	}

	return entities, nil
}

// New creates the extractor selected by cfg. When cache is non-nil, results are cached.
func New(cfg config.ExtractorConfig, cache Cache, log *logger.Logger) (Extractor, error) {
	var ext Extractor

	switch cfg.Backend {
	case "ollama":
		ext = NewOllamaExtractor(cfg.Ollama, log.WithComponent("extractor"))
	case "rules":
		rules, err := NewRuleExtractor(cfg.Rules, log.WithComponent("extractor"))
		if err != nil {
			return nil, fmt.Errorf("failed to create rule extractor: %w", err)
		}
		ext = rules
	default:
		return nil, fmt.Errorf("unknown extractor backend: %s", cfg.Backend)
	}

	if cache != nil {
		ext = NewCachedExtractor(ext, cache, log.WithComponent("extractor_cache"))
	}

	return ext, nil
}
