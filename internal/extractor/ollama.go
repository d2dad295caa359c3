package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/raaihank/llm-pseudonymizer/internal/config"
	"github.com/raaihank/llm-pseudonymizer/internal/logger"
	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

const promptTemplate = `You are an entity extraction engine that detects personally identifiable information (PII) in free-form text.

Your task:
1. Identify every span of the input text that contains PII.
2. Classify each span into exactly one of these categories:
   - PERSON_NAME
   - ADDRESS
   - PHONE_NUMBER
   - EMAIL
   - DOCUMENT_ID (CPF, RG, SSN, passport, driver's license and similar identifiers)
   - ORGANIZATION
   - LOCATION (any place that is not a full address)
   - DATE
   - OTHER_SENSITIVE_DATA
3. Answer ONLY with JSON in this shape:
{"entities": [{"text": "<exact text as it appears in the input>", "type": "<category>"}]}

Rules:
- Copy each span exactly as written; do not rewrite, translate or normalize it.
- Do not anonymize anything and do not invent entities.
- If there is no PII, answer {"entities": []}.

Input text:
"""
%s
"""`

const errorExcerptBytes = 512

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// OllamaExtractor asks a local model served by Ollama to list the entities in a text
type OllamaExtractor struct {
	url              string
	model            string
	temperature      float64
	timeout          time.Duration
	maxResponseBytes int64
	client           *http.Client
	limiter          *rate.Limiter
	logger           *logger.Logger
}

// NewOllamaExtractor creates an extractor for the /api/generate endpoint under cfg.URL
func NewOllamaExtractor(cfg config.OllamaConfig, log *logger.Logger) *OllamaExtractor {
	e := &OllamaExtractor{
		url:              strings.TrimRight(cfg.URL, "/") + "/api/generate",
		model:            cfg.Model,
		temperature:      cfg.Temperature,
		timeout:          cfg.Timeout,
		maxResponseBytes: cfg.MaxResponseBytes,
		client:           &http.Client{},
		logger:           log,
	}

	if e.maxResponseBytes <= 0 {
		e.maxResponseBytes = 10 << 20
	}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return e
}

// Name implements Extractor
func (e *OllamaExtractor) Name() string {
	return "ollama:" + e.model
}

// Extract implements Extractor
func (e *OllamaExtractor) Extract(ctx context.Context, text string) ([]privacy.Entity, error) {
	if strings.TrimSpace(text) == "" {
		return []privacy.Entity{}, nil
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for extractor capacity: %w", err)
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	body, err := json.Marshal(generateRequest{
		Model:   e.model,
		Prompt:  fmt.Sprintf(promptTemplate, text),
		Stream:  false,
		Format:  "json",
		Options: generateOptions{Temperature: e.temperature},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorExcerptBytes))
		return nil, fmt.Errorf("%w: ollama API request failed with status %d: %s",
			ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrUnavailable, err)
	}
	if int64(len(data)) > e.maxResponseBytes {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrMalformedResponse, e.maxResponseBytes)
	}

	var generated generateResponse
	if err := json.Unmarshal(data, &generated); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if generated.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, generated.Error)
	}

	entities, err := ParseEntities(generated.Response)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Entities extracted",
		zap.String("model", e.model),
		zap.Int("text_length", utf8.RuneCountInString(text)),
		zap.Int("entities", len(entities)),
		zap.Duration("duration", time.Since(start)),
	)

	return entities, nil
}
