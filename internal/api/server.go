// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/token-faucet/internal/captcha"
	"github.com/token-faucet/internal/job"
	"github.com/token-faucet/internal/logging"
	"github.com/token-faucet/internal/service"
	"github.com/token-faucet/internal/types"
	"github.com/token-faucet/internal/worker"
)

// Service interfaces for dependency injection and testing

// DripServiceInterface defines the drip operation the handlers call
type DripServiceInterface interface {
	Drip(ctx context.Context, input *service.DripInput) (*types.DripResponse, error)
}

// QueueStatsProvider reports queue depth for the health endpoint
type QueueStatsProvider interface {
	Stats(ctx context.Context) (*job.Stats, error)
}

// WorkerStatusProvider reports whether a job is running
type WorkerStatusProvider interface {
	GetStatus() *worker.DripWorkerStatus
}

// HealthCheck probes one dependency; a nil error means healthy
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	dripService  DripServiceInterface
	captcha      captcha.Verifier
	queue        QueueStatsProvider
	worker       WorkerStatusProvider
	healthChecks map[string]HealthCheck
	config       *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RateLimitRPS    float64 // Requests per second per client IP
	RateLimitBurst  int
	TrustProxy      bool // take the client IP from X-Forwarded-For
}

// Dependencies are the collaborators the server routes requests to
type Dependencies struct {
	DripService  DripServiceInterface
	Captcha      captcha.Verifier
	Queue        QueueStatsProvider
	Worker       WorkerStatusProvider
	HealthChecks map[string]HealthCheck
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps *Dependencies) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		dripService:  deps.DripService,
		captcha:      deps.Captcha,
		queue:        deps.Queue,
		worker:       deps.Worker,
		healthChecks: deps.HealthChecks,
		config:       config,
	}
	if s.captcha == nil {
		s.captcha = captcha.AllowAll{}
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(RequestLoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware(s.config.CORSOrigins))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	// WriteTimeout must outlast a drip wait, which the service bounds itself
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleRoot).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst, s.config.TrustProxy)
	api.Use(RateLimitMiddleware(rateLimiter))

	// OPTIONS is listed so preflight requests reach the CORS middleware
	api.HandleFunc("/transaction", s.handleDrip).Methods("POST", "OPTIONS")
	api.HandleFunc("/drip", s.handleDrip).Methods("POST", "OPTIONS")
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, types.APIResponse{
		Status:  true,
		Message: "Token faucet is running",
	})
}

// handleHealth reports each dependency plus queue and worker state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	health := types.HealthStatus{
		Status:       "healthy",
		Service:      "token-faucet",
		Dependencies: make(map[string]string, len(s.healthChecks)),
	}

	for name, check := range s.healthChecks {
		if err := check(ctx); err != nil {
			logging.FromContext(r.Context()).WithField("dependency", name).WithError(err).Warn("Health check failed")
			health.Dependencies[name] = "unhealthy"
			health.Status = "degraded"
			continue
		}
		health.Dependencies[name] = "healthy"
	}

	if s.queue != nil {
		stats, err := s.queue.Stats(ctx)
		if err != nil {
			health.Dependencies["queue"] = "unhealthy"
			health.Status = "degraded"
		} else {
			health.QueueLength = stats.Pending
		}
	}
	if s.worker != nil {
		status := s.worker.GetStatus()
		health.JobActive = status.ActiveJobID != ""
		if !status.Running {
			health.Dependencies["worker"] = "stopped"
			health.Status = "degraded"
		}
	}

	code := http.StatusOK
	if health.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, health)
}

// Router exposes the handler, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
