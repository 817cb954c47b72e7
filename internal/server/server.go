package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/wic/internal/config"
	"github.com/me/wic/internal/pipeline"
	"github.com/me/wic/internal/store"
)

// Server is the WIC compile service.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	store     store.Store
	base      *pipeline.Pipeline // pipeline over the configured catalog
}

// New creates a new Server with all routes registered. base serves the
// schema endpoints and supplies the inference tables for posted compiles.
func New(cfg config.ServerConfig, st store.Store, base *pipeline.Pipeline, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		store:     st,
		base:      base,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		// Generated schemas of the configured catalog
		r.Route("/schemas", func(r chi.Router) {
			r.Get("/", s.handleListSchemas)
			r.Get("/*", s.handleGetSchema)
		})

		r.Post("/compile", s.handleCompile)

		r.Route("/compilations", func(r chi.Router) {
			r.Get("/", s.handleListCompilations)
			r.Get("/{id}", s.handleGetCompilation)
		})
	})
}
