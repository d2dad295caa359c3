package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Extractor ExtractorConfig `yaml:"extractor" mapstructure:"extractor"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	StatusInterval  time.Duration `yaml:"status_interval" mapstructure:"status_interval"`
}

// ExtractorConfig selects and configures the entity extraction backend
type ExtractorConfig struct {
	Backend string       `yaml:"backend" mapstructure:"backend"` // ollama or rules
	Ollama  OllamaConfig `yaml:"ollama" mapstructure:"ollama"`
	Rules   []string     `yaml:"rules" mapstructure:"rules"`
}

// OllamaConfig contains the language model endpoint used for entity extraction
type OllamaConfig struct {
	URL               string        `yaml:"url" mapstructure:"url"`
	Model             string        `yaml:"model" mapstructure:"model"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Temperature       float64       `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"` // 0 disables pacing
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	MaxResponseBytes  int64         `yaml:"max_response_bytes" mapstructure:"max_response_bytes"`
}

// CacheConfig contains Redis cache configuration for extractor results
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// RateLimitConfig contains per-client rate limiting for the anonymize endpoint
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string        `yaml:"level" mapstructure:"level"`
	Format string        `yaml:"format" mapstructure:"format"` // json or console
	Output string        `yaml:"output" mapstructure:"output"` // stdout or stderr
	File   FileLogConfig `yaml:"file" mapstructure:"file"`
}

// FileLogConfig contains optional file logging configuration
type FileLogConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Path     string `yaml:"path" mapstructure:"path"`
	MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
	MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
	Compress bool   `yaml:"compress" mapstructure:"compress"`
}

// WebSocketConfig contains dashboard event stream configuration
type WebSocketConfig struct {
	Enabled  bool         `yaml:"enabled" mapstructure:"enabled"`
	Path     string       `yaml:"path" mapstructure:"path"`
	Username string       `yaml:"username" mapstructure:"username"`
	Password string       `yaml:"password" mapstructure:"password"`
	Events   EventsConfig `yaml:"events" mapstructure:"events"`
}

// EventsConfig toggles broadcasting per event type
type EventsConfig struct {
	BroadcastAnonymizations bool `yaml:"broadcast_anonymizations" mapstructure:"broadcast_anonymizations"`
	BroadcastRequests       bool `yaml:"broadcast_requests" mapstructure:"broadcast_requests"`
	BroadcastSystem         bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
	BroadcastConnections    bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
}

// BatchConfig contains offline dataset processing configuration
type BatchConfig struct {
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerCount    int  `yaml:"worker_count" mapstructure:"worker_count"`
	FailFast       bool `yaml:"fail_fast" mapstructure:"fail_fast"`
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    150 * time.Second, // extraction can take a while on small hosts
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			AllowedOrigins:  []string{"*"},
			StatusInterval:  30 * time.Second,
		},
		Extractor: ExtractorConfig{
			Backend: "ollama",
			Ollama: OllamaConfig{
				URL:               "http://localhost:11434",
				Model:             "gemma3:1b",
				Timeout:           120 * time.Second,
				Temperature:       0,
				RequestsPerSecond: 0,
				Burst:             1,
				MaxResponseBytes:  10 << 20,
			},
			Rules: []string{"all"},
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			KeyPrefix:      "pseudonymizer",
			DefaultTTL:     6 * time.Hour,
			MaxConnections: 10,
			MinIdleConns:   2,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
			Burst:          10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLogConfig{
				Enabled:  false,
				Path:     "logs/pseudonymizer.log",
				MaxSize:  100, // MB
				MaxAge:   30,  // days
				Compress: true,
			},
		},
		WebSocket: WebSocketConfig{
			Enabled: true,
			Path:    "/ws",
			Events: EventsConfig{
				BroadcastAnonymizations: true,
				BroadcastRequests:       true,
				BroadcastSystem:         true,
				BroadcastConnections:    true,
			},
		},
		Batch: BatchConfig{
			BatchSize:      100,
			WorkerCount:    4,
			FailFast:       false,
			ProgressReport: 1000,
		},
	}
}
