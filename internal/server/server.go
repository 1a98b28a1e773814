// Package server hosts the bot's HTTP surface: the account-linking boundary,
// bot registration, health, and the dock/overlay WebSocket endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/manifoldmarkets/twitch-bot/internal/server/handler"
	"github.com/manifoldmarkets/twitch-bot/internal/server/middleware"
	"github.com/manifoldmarkets/twitch-bot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Link   *handler.LinkHandler
	BotReg *handler.BotRegHandler
}

// Server is the HTTP + WebSocket front of the bot.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux
// and the logging and CORS middleware applied.
func NewServer(cfg Config, handlers Handlers, sockets *ws.Server, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Account linking.
	mux.HandleFunc("POST /api/link/init", handlers.Link.InitiateLink)
	mux.HandleFunc("GET /api/link/callback", handlers.Link.CompleteLink)
	mux.HandleFunc("GET /api/account", handlers.Link.GetAccount)

	// Bot channel registration.
	mux.HandleFunc("POST /api/bot/register", handlers.BotReg.Register)
	mux.HandleFunc("POST /api/bot/unregister", handlers.BotReg.Unregister)

	// Dock and overlay sockets.
	if sockets != nil {
		mux.HandleFunc("GET /ws/dock", sockets.HandleDock)
		mux.HandleFunc("GET /ws/overlay", sockets.HandleOverlay)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
