package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/citescape/citescape/internal/server/ui"
	"github.com/citescape/citescape/pkg/engine"
	"github.com/citescape/citescape/pkg/source"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP interface over an initialized streaming engine.
// db may be nil when the engine runs against a remote query layer; the
// database-backed endpoints then answer 503.
type Server struct {
	Engine *engine.Engine

	db         *source.SQLiteSource
	httpServer *http.Server
	authToken  string
}

// NewServer initializes the HTTP server using an existing Engine.
// Note: the Engine must be started (Start) before passing it here.
func NewServer(eng *engine.Engine, db *source.SQLiteSource, cfg Config) (*Server, error) {
	s := &Server{
		Engine:    eng,
		db:        db,
		authToken: cfg.AuthToken,
	}

	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", ui.GetHandler())

	// Chain middlewares: Recovery -> Logging -> Auth -> Mux
	// Order matters! Recovery must be outer-most to catch everything.
	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.LoggingMiddleware(handler)
	handler = s.RecoveryMiddleware(handler)

	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	// The stream endpoint sits outside the chain: the logging wrapper
	// hides the Hijacker the WebSocket upgrade needs.
	rootMux.HandleFunc("GET /api/stream", s.handleStream)
	rootMux.Handle("/", handler)
	s.httpServer = &http.Server{
		Addr:    cfg.Listen,
		Handler: rootMux,
	}

	return s, nil
}

// Handler exposes the root handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run() error {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server. It does NOT close the Engine or the
// database (main handles those for proper lifecycle management).
func (s *Server) Shutdown() {
	log.Println("Starting graceful shutdown of HTTP Server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}
