package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/tasklog/internal/audit"
	"github.com/mattjoyce/tasklog/internal/auth"
	"github.com/mattjoyce/tasklog/internal/events"
	"github.com/mattjoyce/tasklog/internal/logclient"
)

// LogClients hands out a connected client for a worker address.
type LogClients interface {
	Get(ctx context.Context, addr string) (*logclient.Client, error)
}

// AuditReader lists recently served commands.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]*audit.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// Timeout bounds each call to a worker.
	Timeout time.Duration
	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string
}

// Server is the HTTP gateway in front of worker log servers.
type Server struct {
	config    Config
	clients   LogClients
	audit     AuditReader
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. audit and hub may be nil.
func New(config Config, clients LogClients, audit AuditReader, hub *events.Hub, logger *slog.Logger) *Server {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Server{
		config:    config,
		clients:   clients,
		audit:     audit,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // log downloads and event streams
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	if len(s.config.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.config.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID", "If-None-Match"},
			ExposedHeaders: []string{"ETag", "Content-Disposition"},
			MaxAge:         300,
		}).Handler)
	}

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Group(func(r chi.Router) {
			r.Use(s.requireScopes(auth.ScopeLogsRead))
			r.Get("/logs/bytes", s.handleLogBytes)
			r.Get("/logs/view", s.handleLogView)
			r.Get("/logs/roll", s.handleLogRoll)
			r.Get("/audit", s.handleAudit)
			r.Get("/events", s.handleEvents)
		})

		r.With(s.requireScopes(auth.ScopeLogsWrite)).Delete("/logs", s.handleLogRemove)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
