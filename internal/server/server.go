package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/metrics"
	"github.com/lazypower/tiermem/internal/promotion"
	"github.com/lazypower/tiermem/internal/store"
)

// Server is the tiermem HTTP API server.
type Server struct {
	db      *store.DB
	engine  *engine.Orchestrator
	metrics *metrics.Metrics
	logger  *zap.Logger
	router  chi.Router
	version string
	started time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics serves m at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new Server over the orchestrator.
func New(db *store.DB, eng *engine.Orchestrator, version string, opts ...Option) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		logger:  zap.NewNop(),
		version: version,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/memories", s.handleProcess)
		r.Get("/memories/{key}", s.handleGetMemory)
		r.Post("/memories/{key}/promotion", s.handleResolve)

		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Get("/prompts", s.handlePrompts)
			r.Get("/stats", s.handleStats)
			r.Get("/working", s.handleWorking)
			r.Get("/context", s.handleGetContext)
			r.Post("/activity", s.handleActivity)
			r.Post("/flush", s.handleFlush)
		})

		r.Post("/sweep", s.handleSweep)
		r.Get("/search", s.handleSearch)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router = r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, promotion.ErrInvalidTransition), errors.Is(err, promotion.ErrNoPendingPrompt):
		return http.StatusConflict
	case errors.Is(err, promotion.ErrBadResponse), errors.Is(err, engine.ErrUnknownAgent):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}
