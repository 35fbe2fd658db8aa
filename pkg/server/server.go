// Package server exposes the chat pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nstogner/chatd/pkg/auth"
	"github.com/nstogner/chatd/pkg/controller"
	"github.com/nstogner/chatd/pkg/domain"
	"github.com/nstogner/chatd/pkg/metrics"
	"github.com/nstogner/chatd/pkg/ratelimit"
)

// maxRequestBytes bounds a turn request body.
const maxRequestBytes = 1 << 20

// DefaultWriteTimeout bounds each frame write to a client. A client that
// stops reading is detached once a write exceeds it; the turn carries on.
const DefaultWriteTimeout = 10 * time.Second

type Options struct {
	Controller *controller.Controller
	Auth       auth.Authorizer
	// Limiter may be nil to disable rate limiting.
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	// CORSOrigin is the allowed origin. Empty allows any.
	CORSOrigin string
	// TitleModel names conversations when a title request names no model.
	TitleModel string
	// WriteTimeout bounds each streamed frame write. Defaults to
	// DefaultWriteTimeout.
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Server serves the chat API.
type Server struct {
	ctrl         *controller.Controller
	auth         auth.Authorizer
	limiter      *ratelimit.Limiter
	metrics      *metrics.Metrics
	promHTTP     http.Handler
	corsOrigin   string
	titleModel   string
	writeTimeout time.Duration
	logger       *slog.Logger
	srv          *http.Server
}

// New creates a new Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Server{
		ctrl:         opts.Controller,
		auth:         opts.Auth,
		limiter:      opts.Limiter,
		metrics:      opts.Metrics,
		promHTTP:     opts.MetricsHandler,
		corsOrigin:   opts.CORSOrigin,
		titleModel:   opts.TitleModel,
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "server"),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWebSocket)

	// Conversations
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.handleListMessages)
	mux.HandleFunc("POST /api/conversations/{id}/title", s.handleGenerateTitle)

	// Models
	mux.HandleFunc("GET /api/models", s.handleListModels)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.promHTTP != nil {
		mux.Handle("GET /metrics", s.promHTTP)
	}

	return s.corsMiddleware(mux)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting web server", "addr", addr)
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for running turns.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// authorize resolves the user and applies the rate limit. On failure it has
// already written the response.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, limited bool) (string, bool) {
	userID, err := s.auth.Authorize(r)
	if err != nil {
		if limited {
			s.metrics.TurnRejected("unauthorized")
		}
		s.errorResponse(w, http.StatusUnauthorized, err)
		return "", false
	}
	if limited && !s.limiter.Allow(userID) {
		s.metrics.TurnRejected("rate_limited")
		s.errorResponse(w, http.StatusTooManyRequests, domain.ErrRateLimited)
		return "", false
	}
	return userID, true
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := s.corsOrigin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if origin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUpstreamModel):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("API Error", "status", status, "error", err)
	} else {
		s.logger.Debug("API Error", "status", status, "error", err)
	}
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
