// Package api serves the admission hook and the operator endpoints over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/config"
	"github.com/yuu551/cognito-mfa-migration/internal/health"
	"github.com/yuu551/cognito-mfa-migration/internal/metrics"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *Handlers
	healthCheck  *health.HealthCheck
	errorHandler *ErrorHandler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server with its routes configured.
func NewServer(cfg *config.Config, services Services, healthCheck *health.HealthCheck, m *metrics.Metrics, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	errorHandler := NewErrorHandler(logger)

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		handlers:     NewHandlers(services, errorHandler, logger),
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(
		RequestID,
		RecoverPanics(s.errorHandler, s.logger),
		AccessLog(s.logger),
		metrics.Middleware(s.metrics, routeTemplate),
	)

	// Health check endpoints
	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	// Login hook. Registered ahead of the operator subrouter so it never
	// shares the operator rate limit or timeout.
	auth := s.router.PathPrefix("/v1/auth").Subrouter()
	auth.Use(HookDeadline(s.cfg.Admission.LookupTimeout))
	auth.HandleFunc("/pre-authentication", s.handlers.PreAuthentication).Methods(http.MethodPost)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(AllowOrigins(s.cfg.Server.AllowedOrigins))
	if s.cfg.RateLimiter.Enabled {
		limiter := NewOperatorLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.errorHandler,
			s.logger,
		)
		v1.Use(limiter.Limit)
	}
	v1.Use(Deadline(s.cfg.Server.RequestTimeout))

	// Records
	v1.HandleFunc("/users/{user_id}/mfa-status", s.handlers.GetMFAStatus).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user_id}/migration-status", s.handlers.UpdateMigrationStatus).Methods(http.MethodPut)

	// Migrations
	v1.HandleFunc("/migrations", s.handlers.MigrateUser).Methods(http.MethodPost)
	v1.HandleFunc("/migrations/batch", s.handlers.BatchMigrate).Methods(http.MethodPost)
	v1.HandleFunc("/migrations/reconcile", s.handlers.Reconcile).Methods(http.MethodPost)
	v1.HandleFunc("/migrations/schedule", s.handlers.ScheduleMigration).Methods(http.MethodPost)
	v1.HandleFunc("/migrations/schedule/{user_id}", s.handlers.CancelScheduledMigration).Methods(http.MethodDelete)
	v1.HandleFunc("/migrations/readiness", s.handlers.ValidateReadiness).Methods(http.MethodGet)
	v1.HandleFunc("/migrations/pool-status", s.handlers.PoolStatus).Methods(http.MethodGet)

	// Reports and reminders
	v1.HandleFunc("/reports/migration", s.handlers.MigrationReport).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/due", s.handlers.NotificationsDue).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/send", s.handlers.SendNotifications).Methods(http.MethodPost)

	// Browser preflight for the dashboard
	if len(s.cfg.Server.AllowedOrigins) > 0 {
		v1.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, ErrorCodeInvalidRequest, "endpoint not found", r.Header.Get(requestIDHeader))
	})

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed", r.Header.Get(requestIDHeader))
	})
}

// routeTemplate returns the matched route pattern, e.g. /v1/users/{user_id}/mfa-status
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tmpl
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.Int("port", s.cfg.Server.Port))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}
