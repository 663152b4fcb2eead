// Package api exposes the query layer and scan trigger over HTTP for the
// dashboard and CLI test scripts.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sdx/internal/query"
	"sdx/internal/scanner"
)

// Server represents the HTTP API server
type Server struct {
	router      *http.ServeMux
	server      *http.Server
	addr        string
	logger      *slog.Logger
	engine      *query.Engine
	coordinator *scanner.Coordinator
}

// NewServer creates a new HTTP server instance
func NewServer(addr string, engine *query.Engine, coordinator *scanner.Coordinator, logger *slog.Logger) *Server {
	s := &Server{
		addr:        addr,
		logger:      logger,
		engine:      engine,
		coordinator: coordinator,
		router:      http.NewServeMux(),
	}

	s.registerRoutes()

	handler := s.applyMiddleware(s.router)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	s.router.HandleFunc("/api/health", s.handleHealth)

	s.router.HandleFunc("/api/search/tests", s.handleSearchTests)
	s.router.HandleFunc("/api/tests/", s.handleTestRoutes) // GET /api/tests/:id/paths, /api/tests/:id/sensors

	s.router.HandleFunc("/api/search/optimization", s.handleSearchOptimization)
	s.router.HandleFunc("/api/optimization/parameters/", s.handleGetParameter) // GET /api/optimization/parameters/:id
	s.router.HandleFunc("/api/optimization/strategies", s.handleStrategies)
	s.router.HandleFunc("/api/optimization/files/", s.handleServeFile) // GET /api/optimization/files/*relpath

	s.router.HandleFunc("/api/scan", s.handleScan) // POST
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler with middleware in the correct order
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last one wraps first)
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	handler = CORSMiddleware()(handler)
	return handler
}
