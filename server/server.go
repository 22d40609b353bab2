// Package server implements the Labelpool HTTP server: REST API and auth.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labelpool/labelpool/config"
	"github.com/labelpool/labelpool/lifecycle"
	"github.com/labelpool/labelpool/project"
	"github.com/labelpool/labelpool/server/api"
	"github.com/labelpool/labelpool/task"
)

// Server is the Labelpool HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	engine   *lifecycle.Engine
	tasks    task.Store
	projects project.Store
	cache    *project.Cache
	handlers *api.Handlers

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret []byte

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
		version:   ver,
	}
}

// SetEngine attaches the lifecycle engine to the server.
func (s *Server) SetEngine(e *lifecycle.Engine) {
	s.engine = e
}

// SetTaskStore attaches a task store to the server.
func (s *Server) SetTaskStore(store task.Store) {
	s.tasks = store
}

// SetProjectStore attaches a project store to the server.
func (s *Server) SetProjectStore(store project.Store) {
	s.projects = store
}

// SetProjectCache attaches the optional project cache so writes can
// invalidate it. Call before Start.
func (s *Server) SetProjectCache(c *project.Cache) {
	s.cache = c
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	s.registerRoutes()

	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := &api.Handlers{
		Engine:   s.engine,
		Tasks:    s.tasks,
		Projects: s.projects,
		Cache:    s.cache,
		Logger:   s.logger,
		Version:  s.version,
		StartAt:  s.startTime.Unix(),
	}
	s.handlers = h

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())

	// Protected API — wrapped in auth middleware
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
