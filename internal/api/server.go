// Package api serves the optional progress monitor: a health endpoint, a
// one-shot session snapshot and a WebSocket stream of tick/close/burn-out
// events for a live view of a running backtest.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"mt5-backtest/internal/config"
)

// Server runs the HTTP/WebSocket monitor.
type Server struct {
	cfg      config.MonitorConfig
	provider SnapshotProvider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a monitor server.
func NewServer(cfg config.MonitorConfig, provider SnapshotProvider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the hub and the HTTP server. Blocks until Stop.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("monitor server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server and ends the hub loop.
func (s *Server) Stop() error {
	s.logger.Info("stopping monitor server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.hub.Stop()
	return err
}

// PublishTick broadcasts a tick event to connected monitors.
func (s *Server) PublishTick(evt TickEvent) {
	s.hub.BroadcastEvent(Event{Type: "tick", Timestamp: time.Now(), Data: evt})
}

// PublishClose broadcasts a position-close event.
func (s *Server) PublishClose(evt CloseEvent) {
	s.hub.BroadcastEvent(Event{Type: "close", Timestamp: time.Now(), Data: evt})
}

// PublishBurnOut broadcasts session termination by account exhaustion.
func (s *Server) PublishBurnOut(evt BurnOutEvent) {
	s.hub.BroadcastEvent(Event{Type: "burnout", Timestamp: time.Now(), Data: evt})
}
