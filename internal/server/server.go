package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/lazypower/frecent/internal/engine"
	"github.com/lazypower/frecent/internal/store"
)

// Server is the frecent HTTP API server.
type Server struct {
	db       *store.DB
	tracker  *engine.Tracker
	events   *Broadcaster
	logger   *slog.Logger
	router   chi.Router
	version  string
	instance string
	started  time.Time
}

// New creates a Server around a loaded tracker and registers its event
// broadcaster as a tracker observer.
func New(db *store.DB, tracker *engine.Tracker, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:       db,
		tracker:  tracker,
		events:   NewBroadcaster(logger),
		logger:   logger,
		version:  version,
		instance: uuid.NewString(),
		started:  time.Now(),
	}
	tracker.AddObserver(s.events)
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Events returns the broadcaster feeding /api/events.
func (s *Server) Events() *Broadcaster {
	return s.events
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Post("/visits", s.handleVisit)
		r.Post("/renames", s.handleRename)
		r.Post("/deletes", s.handleDelete)
		r.Post("/removals", s.handleRemove)

		r.Get("/open", s.handleGetOpen)
		r.Put("/open", s.handleSetOpen)
		r.Post("/close", s.handleClose)

		r.Get("/entries", s.handleEntries)
		r.Get("/total", s.handleTotal)
		r.Post("/clear", s.handleClear)
		r.Post("/reconcile", s.handleReconcile)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)

		r.Get("/state", s.handleExport)
		r.Put("/state", s.handleImport)
		r.Post("/flush", s.handleFlush)

		r.Get("/events", s.handleEvents)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.db.PingContext(r.Context()) == nil

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     s.version,
		"uptime":      time.Since(s.started).Seconds(),
		"db":          dbOK,
		"db_path":     s.db.Path,
		"instance":    s.instance,
		"records":     s.tracker.Len(),
		"subscribers": s.events.Count(),
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
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
