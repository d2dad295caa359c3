package extractor

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/raaihank/llm-pseudonymizer/internal/config"
	"github.com/raaihank/llm-pseudonymizer/internal/logger"
	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

func TestParseEntities(t *testing.T) {
	t.Run("Plain", func(t *testing.T) {
		got, err := ParseEntities(`{"entities":[{"text":"Maria Silva","type":"PERSON_NAME"},{"text":"Lisbon","type":"LOCATION"}]}`)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		want := []privacy.Entity{
			{Text: "Maria Silva", Type: privacy.EntityPersonName},
			{Text: "Lisbon", Type: privacy.EntityLocation},
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Got %+v, want %+v", got, want)
		}
	})

	t.Run("CodeFence", func(t *testing.T) {
		got, err := ParseEntities("```json\n{\"entities\":[{\"text\":\"ana@example.com\",\"type\":\"EMAIL\"}]}\n```")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(got) != 1 || got[0].Type != privacy.EntityEmail {
			t.Errorf("Unexpected entities: %+v", got)
		}
	})

	t.Run("BareFence", func(t *testing.T) {
		got, err := ParseEntities("```\n{\"entities\":[]}\n```")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("Expected empty non-nil slice, got %#v", got)
		}
	})

	t.Run("MissingEntities", func(t *testing.T) {
		got, err := ParseEntities(`{}`)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("Expected empty non-nil slice, got %#v", got)
		}
	})

	t.Run("BlankTextDropped", func(t *testing.T) {
		got, err := ParseEntities(`{"entities":[{"text":"  ","type":"DATE"},{"text":"2024-05-01","type":"DATE"}]}`)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(got) != 1 || got[0].Text != "2024-05-01" {
			t.Errorf("Unexpected entities: %+v", got)
		}
	})

	malformed := map[string]string{
		"Empty":       "",
		"Prose":       "Sure! Here are the entities.",
		"UnknownType": `{"entities":[{"text":"x","type":"SOCIAL_MEDIA"}]}`,
		"WrongShape":  `{"entities":"none"}`,
		"Truncated":   `{"entities":[{"text":"Maria"`,
		"MissingType": `{"entities":[{"text":"Ana"}]}`,
		"NullType":    `{"entities":[{"text":"Ana","type":null}]}`,
		"EmptyType":   `{"entities":[{"text":"Ana","type":""}]}`,
	}
	for name, raw := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEntities(raw)
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("Expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

type stubCache struct {
	entries map[string][]privacy.Entity
	getErr  error
	setErr  error
	sets    int
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string][]privacy.Entity)}
}

func (c *stubCache) Get(_ context.Context, key string) ([]privacy.Entity, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	e, ok := c.entries[key]
	return e, ok, nil
}

func (c *stubCache) Set(_ context.Context, key string, entities []privacy.Entity) error {
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = entities
	return nil
}

func (c *stubCache) Key(namespace, text string) string {
	return namespace + "|" + text
}

func TestNew(t *testing.T) {
	log := logger.NewNop()

	t.Run("Ollama", func(t *testing.T) {
		cfg := config.GetDefaults().Extractor
		ext, err := New(cfg, nil, log)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if _, ok := ext.(*OllamaExtractor); !ok {
			t.Errorf("Expected *OllamaExtractor, got %T", ext)
		}
		if ext.Name() != "ollama:gemma3:1b" {
			t.Errorf("Unexpected name: %s", ext.Name())
		}
	})

	t.Run("RulesWithCache", func(t *testing.T) {
		cfg := config.ExtractorConfig{Backend: "rules", Rules: []string{"email"}}
		ext, err := New(cfg, newStubCache(), log)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if _, ok := ext.(*CachedExtractor); !ok {
			t.Errorf("Expected *CachedExtractor, got %T", ext)
		}
		if ext.Name() != "rules:email" {
			t.Errorf("Unexpected name: %s", ext.Name())
		}
	})

	t.Run("UnknownRule", func(t *testing.T) {
		cfg := config.ExtractorConfig{Backend: "rules", Rules: []string{"iban"}}
		if _, err := New(cfg, nil, log); err == nil {
			t.Error("Expected error for unknown rule")
		}
	})

	t.Run("UnknownBackend", func(t *testing.T) {
		if _, err := New(config.ExtractorConfig{Backend: "spacy"}, nil, log); err == nil {
			t.Error("Expected error for unknown backend")
		}
	})
}
