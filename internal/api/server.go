package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"elastic-dca/internal/engine"
)

// Server runs the HTTP/WebSocket API for the terminal and the dashboard
type Server struct {
	engine   EngineService
	events   <-chan engine.Event
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server
func NewServer(port int, eng EngineService, events <-chan engine.Event, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(eng, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tick", handlers.HandleTick)
	mux.HandleFunc("/api/ui-data", handlers.HandleUIData)
	mux.HandleFunc("/api/update-settings", handlers.HandleUpdateSettings)
	mux.HandleFunc("/api/control", handlers.HandleControl)
	mux.HandleFunc("/api/health", handlers.HandleHealth)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	mux.HandleFunc("/", handlers.HandleRoot)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      withCORS(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		engine:   eng,
		events:   events,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the API server and the event hub
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("api server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// consumeEvents relays engine events to connected dashboard clients
func (s *Server) consumeEvents() {
	if s.events == nil {
		return
	}
	for evt := range s.events {
		s.hub.BroadcastEvent(evt)
	}
}

// withCORS applies a permissive CORS policy; the terminal and the UI run
// off-origin in every deployment this engine targets.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
