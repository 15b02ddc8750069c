// Package server provides the HTTP server and routing for shadowtrade.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/auth"
	"github.com/aristath/shadowtrade/internal/database"
	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/metrics"
	computationhandlers "github.com/aristath/shadowtrade/internal/modules/computation/handlers"
	registryhandlers "github.com/aristath/shadowtrade/internal/modules/registry/handlers"
	settlementhandlers "github.com/aristath/shadowtrade/internal/modules/settlement/handlers"
	"github.com/aristath/shadowtrade/internal/mpc"
	"github.com/aristath/shadowtrade/internal/reliability"
	"github.com/aristath/shadowtrade/internal/scheduler"
)

// DispatcherStats is implemented by the MPC dispatcher.
type DispatcherStats interface {
	Stats() mpc.Stats
}

// Config holds server configuration. Scheduler, Dispatcher and Backups are
// optional and only feed the status endpoint.
type Config struct {
	Log           zerolog.Logger
	Port          int
	DevMode       bool
	MaxBodyBytes  int64
	DB            *database.DB
	Journal       *events.Log
	Bus           *events.Bus
	Metrics       *metrics.Metrics
	Authenticator *auth.Authenticator

	Registry    *registryhandlers.Handler
	Computation *computationhandlers.Handler
	Settlement  *settlementhandlers.Handler

	Scheduler  *scheduler.Scheduler
	Dispatcher DispatcherStats
	Backups    *reliability.BackupService
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	cfg     Config
	log     zerolog.Logger
	events  *EventsHandler
	system  *SystemHandlers
	started time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		router:  chi.NewRouter(),
		cfg:     cfg,
		log:     cfg.Log.With().Str("component", "server").Logger(),
		events:  NewEventsHandler(cfg.Journal, cfg.Bus, cfg.Metrics, cfg.Log),
		system:  NewSystemHandlers(cfg, cfg.Log),
		started: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router returns the root handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			auth.HeaderSigner, auth.HeaderTimestamp, auth.HeaderSignature,
		},
		ExposedHeaders: []string{"X-Account-Kind", "X-Content-SHA256"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.system.HandleHealth)
	s.router.Handle("/metrics", s.cfg.Metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody(s.cfg.MaxBodyBytes))
		r.Use(auth.Middleware(s.cfg.Authenticator, s.cfg.MaxBodyBytes, s.cfg.Log))

		// Long-lived observers stay outside the timeout and compression.
		r.Get("/events/stream", s.events.HandleStream)
		r.Get("/events/ws", s.events.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			if !s.cfg.DevMode {
				r.Use(middleware.Compress(5))
			}

			r.Get("/events", s.events.HandleList)

			s.cfg.Registry.RegisterRoutes(r)
			s.cfg.Computation.RegisterRoutes(r)
			s.cfg.Settlement.RegisterRoutes(r)

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.system.HandleStatus)
				r.Get("/jobs", s.system.HandleJobs)
			})
		})
	})
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.events.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func limitBody(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}
