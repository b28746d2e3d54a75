// Package api provides the HTTP notification endpoint and read-only views of
// the handler state and recorded incidents.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/killswitch/internal/core"
	"github.com/hugo-lorenzo-mato/killswitch/internal/events"
	"github.com/hugo-lorenzo-mato/killswitch/internal/handler"
	"github.com/hugo-lorenzo-mato/killswitch/internal/incident"
)

// Notifier receives exhaustion notifications. *handler.Handler implements it.
type Notifier interface {
	OnResourceExhaustedFrom(ctx context.Context, flags core.ExhaustionFlags, source string) handler.Outcome
	State() handler.State
}

// IncidentStore reads recorded incidents. *incident.Store implements it.
type IncidentStore interface {
	List(ctx context.Context, limit int) ([]*incident.Incident, error)
	Get(ctx context.Context, id string) (*incident.Incident, error)
}

// Server provides the HTTP endpoints for one handler.
type Server struct {
	router      chi.Router
	notifier    Notifier
	eventBus    *events.EventBus
	incidents   IncidentStore
	metrics     http.Handler
	corsOrigins []string
	logger      *slog.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithEventBus enables the event stream endpoint.
func WithEventBus(bus *events.EventBus) ServerOption {
	return func(s *Server) {
		s.eventBus = bus
	}
}

// WithIncidents enables the incident endpoints.
func WithIncidents(store IncidentStore) ServerOption {
	return func(s *Server) {
		s.incidents = store
	}
}

// WithMetrics mounts a metrics handler on /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithCORSOrigins restricts cross-origin access. Empty allows any origin.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// NewServer creates a new API server.
func NewServer(notifier Notifier, opts ...ServerOption) *Server {
	s := &Server{
		notifier: notifier,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures Chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// An escalation runs to completion on the request goroutine, so
		// notifications get no request timeout.
		r.Post("/notifications", s.handleNotify)

		if s.eventBus != nil {
			r.Get("/events", s.handleSSE)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Get("/state", s.handleState)
			if s.incidents != nil {
				r.Get("/incidents", s.handleListIncidents)
				r.Get("/incidents/{incidentID}", s.handleGetIncident)
			}
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"state":  s.notifier.State().String(),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
