package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"quoteagent/internal/collaborators"
	"quoteagent/internal/config"
	"quoteagent/internal/pipeline"
	"quoteagent/internal/state"
)

// Server runs the HTTP/WebSocket API boundary for the Strategy Agent
// (spec.md §4.7). Adapted from the teacher's dashboard Server: same
// mux/http.Server construction and graceful-shutdown shape.
type Server struct {
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds a Server wired to pipeline, store, and an optional
// collaborators client.
func NewServer(cfg config.Config, p *pipeline.Pipeline, store *state.Store, collab *collaborators.Client, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(p, store, collab, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("POST /v1/quote", handlers.HandleQuote)
	mux.HandleFunc("GET /v1/fills/{maker}/{nonce}", handlers.HandleFill)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the hub and blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("quote agent server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping quote agent server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
