package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raaihank/llm-pseudonymizer/internal/config"
	"github.com/raaihank/llm-pseudonymizer/internal/logger"
	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc) (*OllamaExtractor, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.GetDefaults().Extractor.Ollama
	cfg.URL = server.URL + "/"
	cfg.Timeout = 2 * time.Second
	return NewOllamaExtractor(cfg, logger.NewNop()), server
}

func writeGenerate(t *testing.T, w http.ResponseWriter, response string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(generateResponse{Response: response, Done: true}); err != nil {
		t.Errorf("Failed to encode response: %v", err)
	}
}

func TestOllamaExtract(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var got generateRequest
		ext, _ := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
				t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("Failed to decode request: %v", err)
			}
			writeGenerate(t, w, "```json\n{\"entities\":[{\"text\":\"Maria Silva\",\"type\":\"PERSON_NAME\"}]}\n```")
		})

		entities, err := ext.Extract(context.Background(), "Maria Silva called.")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(entities) != 1 || entities[0] != (privacy.Entity{Text: "Maria Silva", Type: privacy.EntityPersonName}) {
			t.Errorf("Unexpected entities: %+v", entities)
		}

		if got.Model != "gemma3:1b" || got.Stream || got.Format != "json" {
			t.Errorf("Unexpected request body: %+v", got)
		}
		if !strings.Contains(got.Prompt, "Maria Silva called.") {
			t.Error("Prompt must embed the input text")
		}
		if !strings.Contains(got.Prompt, "OTHER_SENSITIVE_DATA") {
			t.Error("Prompt must list the entity categories")
		}
	})

	t.Run("BlankTextSkipsModel", func(t *testing.T) {
		var calls atomic.Int32
		ext, _ := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		})

		entities, err := ext.Extract(context.Background(), "   \n")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if entities == nil || len(entities) != 0 {
			t.Errorf("Expected empty slice, got %#v", entities)
		}
		if calls.Load() != 0 {
			t.Error("Model must not be called for blank text")
		}
	})

	t.Run("ServerError", func(t *testing.T) {
		ext, _ := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		})

		_, err := ext.Extract(context.Background(), "text")
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("Expected ErrUnavailable, got %v", err)
		}
		if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "model not found") {
			t.Errorf("Error should carry status and body excerpt: %v", err)
		}
	})

	t.Run("Unreachable", func(t *testing.T) {
		ext, server := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {})
		server.Close()

		if _, err := ext.Extract(context.Background(), "text"); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("ModelError", func(t *testing.T) {
		ext, _ := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":"out of memory"}`))
		})

		if _, err := ext.Extract(context.Background(), "text"); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("MalformedEnvelope", func(t *testing.T) {
		ext, _ := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>proxy error</html>`))
		})

		if _, err := ext.Extract(context.Background(), "text"); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("Expected ErrMalformedResponse, got %v", err)
		}
	})

	t.Run("MalformedEntities", func(t *testing.T) {
		ext, _ := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
			writeGenerate(t, w, "I could not find any PII.")
		})

		if _, err := ext.Extract(context.Background(), "text"); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("Expected ErrMalformedResponse, got %v", err)
		}
	})

	t.Run("ResponseTooLarge", func(t *testing.T) {
		ext, _ := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
			writeGenerate(t, w, strings.Repeat("x", 2048))
		})
		ext.maxResponseBytes = 1024

		if _, err := ext.Extract(context.Background(), "text"); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("Expected ErrMalformedResponse, got %v", err)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		release := make(chan struct{})
		ext, _ := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		defer close(release)
		ext.timeout = 50 * time.Millisecond

		_, err := ext.Extract(context.Background(), "text")
		if !errors.Is(err, ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline error, got %v", err)
		}
	})

	t.Run("RateLimited", func(t *testing.T) {
		ext, _ := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
			writeGenerate(t, w, `{"entities":[]}`)
		})
		cfg := config.GetDefaults().Extractor.Ollama
		cfg.RequestsPerSecond = 0.001
		cfg.Burst = 1
		limited := NewOllamaExtractor(cfg, logger.NewNop())
		limited.url = ext.url

		if _, err := limited.Extract(context.Background(), "first"); err != nil {
			t.Fatalf("First request should pass: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := limited.Extract(ctx, "second"); err == nil {
			t.Error("Expected second request to be throttled")
		}
	})
}
