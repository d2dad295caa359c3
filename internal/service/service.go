// Package service runs one anonymization request end to end: entity
// extraction, pseudonymization and notification of interested observers.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/raaihank/llm-pseudonymizer/internal/extractor"
	"github.com/raaihank/llm-pseudonymizer/internal/logger"
	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
)

// ErrAnonymizationFailed wraps every failure of Service.Anonymize
var ErrAnonymizationFailed = errors.New("failed to anonymize text")

// Event summarizes a completed anonymization. It never carries original text or pseudonyms.
type Event struct {
	RequestID   string                     `json:"request_id,omitempty"`
	Extractor   string                     `json:"extractor"`
	TextLength  int                        `json:"text_length"`
	EntityCount int                        `json:"entity_count"`
	TypeCounts  map[privacy.EntityType]int `json:"type_counts"`
	Conflicts   int                        `json:"conflicts"`
	Duration    time.Duration              `json:"duration"`
	Timestamp   time.Time                  `json:"timestamp"`
}

// Notifier receives an Event after each successful anonymization
type Notifier interface {
	NotifyAnonymization(event Event)
}

// Stats holds running totals since start
type Stats struct {
	Requests int64 `json:"requests"`
	Failures int64 `json:"failures"`
	Entities int64 `json:"entities"`
}

// Service anonymizes texts using an extractor and the pseudonymization engine
type Service struct {
	extractor extractor.Extractor
	engine    *privacy.Engine
	notifier  Notifier
	logger    *logger.Logger

	requests atomic.Int64
	failures atomic.Int64
	entities atomic.Int64
}

// Option configures a Service
type Option func(*Service)

// WithNotifier registers n to receive anonymization events
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// New creates a Service
func New(ext extractor.Extractor, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		extractor: ext,
		engine:    privacy.NewEngine(log.WithComponent("engine").Logger),
		logger:    log.WithComponent("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExtractorName returns the name of the configured extractor
func (s *Service) ExtractorName() string {
	return s.extractor.Name()
}

// Anonymize extracts the entities of text and replaces them with pseudonyms.
// Extraction failures are returned wrapped in ErrAnonymizationFailed; no partial
// result is produced.
func (s *Service) Anonymize(ctx context.Context, text string) (*privacy.Result, error) {
	start := time.Now()
	requestID := RequestIDFromContext(ctx)
	log := s.logger
	if requestID != "" {
		log = log.WithRequestID(requestID)
	}

	s.requests.Add(1)

	entities, err := s.extractor.Extract(ctx, text)
	if err != nil {
		s.failures.Add(1)
		log.Error("Entity extraction failed",
			zap.String("extractor", s.extractor.Name()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrAnonymizationFailed, err)
	}

	result := s.engine.Anonymize(text, entities)
	s.entities.Add(int64(len(result.ReplacementMap)))

	event := Event{
		RequestID:   requestID,
		Extractor:   s.extractor.Name(),
		TextLength:  utf8.RuneCountInString(text),
		EntityCount: len(result.ReplacementMap),
		TypeCounts:  result.TypeCounts(),
		Conflicts:   len(result.Conflicts),
		Duration:    time.Since(start),
		Timestamp:   time.Now(),
	}

	log.Info("Text anonymized",
		zap.Int("text_length", event.TextLength),
		zap.Int("entities", event.EntityCount),
		zap.Int("conflicts", event.Conflicts),
		zap.Duration("duration", event.Duration),
	)

	if s.notifier != nil {
		s.notifier.NotifyAnonymization(event)
	}

	return result, nil
}

// Stats returns a snapshot of the running totals
func (s *Service) Stats() Stats {
	return Stats{
		Requests: s.requests.Load(),
		Failures: s.failures.Load(),
		Entities: s.entities.Load(),
	}
}

type requestIDKey struct{}

// WithRequestID returns a copy of ctx carrying id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored by WithRequestID, or ""
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
