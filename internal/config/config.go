package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrNoConfigFile is returned by Watch when no configuration file was found to watch
var ErrNoConfigFile = errors.New("no configuration file in use")

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch reloads the configuration file whenever it changes and hands every valid
// new configuration to callback. Invalid reloads are reported to onError and skipped.
func Watch(configPath string, callback func(*Config), onError func(error)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return ErrNoConfigFile
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}

func newViper(configPath string) (*viper.Viper, error) {
	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, GetDefaults())

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pseudonymizer/")
	v.AddConfigPath("$HOME/.pseudonymizer/")

	v.SetEnvPrefix("PSEUDONYMIZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults registers every key so environment overrides work without a config file
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.status_interval", d.Server.StatusInterval)

	v.SetDefault("extractor.backend", d.Extractor.Backend)
	v.SetDefault("extractor.rules", d.Extractor.Rules)
	v.SetDefault("extractor.ollama.url", d.Extractor.Ollama.URL)
	v.SetDefault("extractor.ollama.model", d.Extractor.Ollama.Model)
	v.SetDefault("extractor.ollama.timeout", d.Extractor.Ollama.Timeout)
	v.SetDefault("extractor.ollama.temperature", d.Extractor.Ollama.Temperature)
	v.SetDefault("extractor.ollama.requests_per_second", d.Extractor.Ollama.RequestsPerSecond)
	v.SetDefault("extractor.ollama.burst", d.Extractor.Ollama.Burst)
	v.SetDefault("extractor.ollama.max_response_bytes", d.Extractor.Ollama.MaxResponseBytes)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	v.SetDefault("cache.key_prefix", d.Cache.KeyPrefix)
	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.max_connections", d.Cache.MaxConnections)
	v.SetDefault("cache.min_idle_conns", d.Cache.MinIdleConns)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.requests_per_min", d.RateLimit.RequestsPerMin)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.file.enabled", d.Logging.File.Enabled)
	v.SetDefault("logging.file.path", d.Logging.File.Path)
	v.SetDefault("logging.file.max_size", d.Logging.File.MaxSize)
	v.SetDefault("logging.file.max_age", d.Logging.File.MaxAge)
	v.SetDefault("logging.file.compress", d.Logging.File.Compress)

	v.SetDefault("websocket.enabled", d.WebSocket.Enabled)
	v.SetDefault("websocket.path", d.WebSocket.Path)
	v.SetDefault("websocket.username", d.WebSocket.Username)
	v.SetDefault("websocket.password", d.WebSocket.Password)
	v.SetDefault("websocket.events.broadcast_anonymizations", d.WebSocket.Events.BroadcastAnonymizations)
	v.SetDefault("websocket.events.broadcast_requests", d.WebSocket.Events.BroadcastRequests)
	v.SetDefault("websocket.events.broadcast_system", d.WebSocket.Events.BroadcastSystem)
	v.SetDefault("websocket.events.broadcast_connections", d.WebSocket.Events.BroadcastConnections)

	v.SetDefault("batch.batch_size", d.Batch.BatchSize)
	v.SetDefault("batch.worker_count", d.Batch.WorkerCount)
	v.SetDefault("batch.fail_fast", d.Batch.FailFast)
	v.SetDefault("batch.progress_report", d.Batch.ProgressReport)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body size: %d", config.Server.MaxBodyBytes)
	}

	switch config.Extractor.Backend {
	case "ollama":
		if config.Extractor.Ollama.URL == "" {
			return fmt.Errorf("extractor.ollama.url is required for the ollama backend")
		}
		if config.Extractor.Ollama.Model == "" {
			return fmt.Errorf("extractor.ollama.model is required for the ollama backend")
		}
		if config.Extractor.Ollama.RequestsPerSecond < 0 {
			return fmt.Errorf("invalid requests per second: %g", config.Extractor.Ollama.RequestsPerSecond)
		}
	case "rules":
		if len(config.Extractor.Rules) == 0 {
			return fmt.Errorf("extractor.rules must list at least one rule (or \"all\")")
		}
	default:
		return fmt.Errorf("invalid extractor backend: %s (must be ollama or rules)", config.Extractor.Backend)
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required when the cache is enabled")
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Logging.Output != "stdout" && config.Logging.Output != "stderr" {
		return fmt.Errorf("invalid log output: %s (must be stdout or stderr)", config.Logging.Output)
	}

	if config.WebSocket.Enabled && !strings.HasPrefix(config.WebSocket.Path, "/") {
		return fmt.Errorf("invalid websocket path: %q", config.WebSocket.Path)
	}

	if config.Batch.BatchSize <= 0 || config.Batch.WorkerCount <= 0 {
		return fmt.Errorf("batch size and worker count must be positive")
	}

	return nil
}

// YAML renders the configuration with secrets masked
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.WebSocket.Password != "" {
		masked.WebSocket.Password = "***"
	}
	return yaml.Marshal(&masked)
}
