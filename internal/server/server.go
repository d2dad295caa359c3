// Package server exposes the anonymization service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/llm-pseudonymizer/internal/config"
	"github.com/raaihank/llm-pseudonymizer/internal/logger"
	"github.com/raaihank/llm-pseudonymizer/internal/service"
	"github.com/raaihank/llm-pseudonymizer/internal/web"
	"github.com/raaihank/llm-pseudonymizer/internal/websocket"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterMaxIdle         = 30 * time.Minute
)

// Server represents the HTTP server
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	service   *service.Service
	hub       *websocket.Hub
	limiter   *RateLimiter
	router    *mux.Router
	server    *http.Server
	version   string
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a server. hub may be nil when the dashboard stream is disabled.
func New(cfg *config.Config, svc *service.Service, hub *websocket.Hub, log *logger.Logger, version string) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		service:   svc,
		hub:       hub,
		router:    mux.NewRouter(),
		version:   version,
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.Handle("/anonymize", s.rateLimitMiddleware(http.HandlerFunc(s.handleAnonymize))).
		Methods(http.MethodPost, http.MethodOptions)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	s.router.HandleFunc("/", web.ServeForm).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)

	if s.hub != nil {
		s.router.HandleFunc(s.config.WebSocket.Path, s.hub.HandleWebSocket).Methods(http.MethodGet)
	}
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the background workers and serves HTTP until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting pseudonymizer server",
		zap.Int("port", s.config.Server.Port),
		zap.String("extractor", s.service.ExtractorName()),
		zap.Bool("rate_limit", s.limiter != nil),
		zap.Bool("websocket", s.hub != nil),
	)

	if s.hub != nil {
		go s.hub.Run(s.ctx)
		if s.config.Server.StatusInterval > 0 {
			go s.runStatusBroadcast(s.ctx, s.config.Server.StatusInterval)
		}
	}

	if s.limiter != nil {
		go s.limiter.RunCleanup(s.ctx, limiterCleanupInterval, limiterMaxIdle)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server and its background workers
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping pseudonymizer server")
	s.cancel()
	return s.server.Shutdown(ctx)
}

// runStatusBroadcast publishes a status snapshot every interval
func (s *Server) runStatusBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.BroadcastSystemStatus(s.systemStatus())
		}
	}
}

func (s *Server) systemStatus() websocket.SystemStatusEvent {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := s.service.Stats()
	status := websocket.SystemStatusEvent{
		Status:        "healthy",
		Uptime:        time.Since(s.startTime).Round(time.Second).String(),
		Extractor:     s.service.ExtractorName(),
		TotalRequests: stats.Requests,
		TotalFailures: stats.Failures,
		TotalEntities: stats.Entities,
		Goroutines:    runtime.NumGoroutine(),
		MemoryUsage:   fmt.Sprintf("%.1f MB", float64(mem.Alloc)/(1<<20)),
	}
	if s.hub != nil {
		status.ConnectedClients = s.hub.ClientCount()
	}
	return status
}
