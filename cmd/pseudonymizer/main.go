package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/llm-pseudonymizer/internal/cache"
	"github.com/raaihank/llm-pseudonymizer/internal/config"
	"github.com/raaihank/llm-pseudonymizer/internal/extractor"
	"github.com/raaihank/llm-pseudonymizer/internal/logger"
	"github.com/raaihank/llm-pseudonymizer/internal/server"
	"github.com/raaihank/llm-pseudonymizer/internal/service"
	"github.com/raaihank/llm-pseudonymizer/internal/websocket"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
		printConfig = flag.Bool("print-config", false, "Print the effective configuration and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("llm-pseudonymizer %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *healthCheck {
		performHealthCheck(cfg.Server.Port)
		return
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(out))
		return
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting llm-pseudonymizer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
		zap.String("backend", cfg.Extractor.Backend),
	)

	var entityCache extractor.Cache
	if cfg.Cache.Enabled {
		ec, err := cache.NewEntityCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			// The service still works without the cache, just slower.
			log.Warn("Entity cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer ec.Close()
			entityCache = ec
		}
	}

	ext, err := extractor.New(cfg.Extractor, entityCache, log.WithComponent("extractor"))
	if err != nil {
		log.Fatal("Failed to create extractor", zap.Error(err))
	}

	var (
		hub  *websocket.Hub
		opts []service.Option
	)
	if cfg.WebSocket.Enabled {
		hub = websocket.NewHub(&websocket.HubConfig{
			BroadcastAnonymizations: cfg.WebSocket.Events.BroadcastAnonymizations,
			BroadcastRequests:       cfg.WebSocket.Events.BroadcastRequests,
			BroadcastSystem:         cfg.WebSocket.Events.BroadcastSystem,
			BroadcastConnections:    cfg.WebSocket.Events.BroadcastConnections,
			Username:                cfg.WebSocket.Username,
			Password:                cfg.WebSocket.Password,
		}, log.WithComponent("websocket").Logger)
		opts = append(opts, service.WithNotifier(hub))
	}

	svc := service.New(ext, log.WithComponent("service"), opts...)
	srv := server.New(cfg, svc, hub, log, version)

	if err := config.Watch(*configPath, func(newCfg *config.Config) {
		if err := log.SetLevel(newCfg.Logging.Level); err != nil {
			log.Warn("Ignoring invalid log level", zap.String("level", newCfg.Logging.Level), zap.Error(err))
			return
		}
		log.Info("Configuration reloaded", zap.String("log_level", newCfg.Logging.Level))
	}, func(err error) {
		log.Warn("Configuration reload failed", zap.Error(err))
	}); err != nil && !errors.Is(err, config.ErrNoConfigFile) {
		log.Warn("Configuration watch disabled", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Fatal("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

func newLogger(cfg config.LoggingConfig) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	}

	if cfg.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.File.Enabled,
			Path:     cfg.File.Path,
			MaxSize:  cfg.File.MaxSize,
			MaxAge:   cfg.File.MaxAge,
			Compress: cfg.File.Compress,
		}
	}

	return logger.New(loggerConfig)
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(port int) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
