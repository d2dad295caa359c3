package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/llm-pseudonymizer/internal/privacy"
	"github.com/raaihank/llm-pseudonymizer/internal/service"
)

type anonymizeRequest struct {
	Text *string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type infoResponse struct {
	Name             string               `json:"name"`
	Version          string               `json:"version"`
	Extractor        string               `json:"extractor"`
	CacheEnabled     bool                 `json:"cache_enabled"`
	RateLimitEnabled bool                 `json:"rate_limit_enabled"`
	WebSocketEnabled bool                 `json:"websocket_enabled"`
	Uptime           string               `json:"uptime"`
	EntityTypes      []privacy.EntityType `json:"entity_types"`
	Stats            service.Stats        `json:"stats"`
	ConnectedClients int                  `json:"connected_clients"`
}

// handleAnonymize handles POST /anonymize with body {"text": "..."}
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	log := s.logger.WithRequestID(service.RequestIDFromContext(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)

	var req anonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, r, http.StatusBadRequest, "request body too large")
			return
		}
		s.writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Text == nil {
		s.writeError(w, r, http.StatusBadRequest, "text is required")
		return
	}

	result, err := s.service.Anonymize(r.Context(), *req.Text)
	if err != nil {
		log.Error("Anonymization failed", zap.Error(err))
		s.writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}

	s.writeJSON(w, r, http.StatusOK, result)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := infoResponse{
		Name:             "llm-pseudonymizer",
		Version:          s.version,
		Extractor:        s.service.ExtractorName(),
		CacheEnabled:     s.config.Cache.Enabled,
		RateLimitEnabled: s.limiter != nil,
		WebSocketEnabled: s.hub != nil,
		Uptime:           time.Since(s.startTime).Round(time.Second).String(),
		EntityTypes:      privacy.AllEntityTypes(),
		Stats:            s.service.Stats(),
	}
	if s.hub != nil {
		info.ConnectedClients = s.hub.ClientCount()
	}

	s.writeJSON(w, r, http.StatusOK, info)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithRequestID(service.RequestIDFromContext(r.Context())).Debug("Failed to write response",
			zap.Int("status", status),
			zap.Error(err),
		)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, r, status, errorResponse{Error: message})
}
