package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/moosh3/ack-agent/internal/artifact"
	"github.com/moosh3/ack-agent/internal/audit"
	"github.com/moosh3/ack-agent/internal/db"
	"github.com/moosh3/ack-agent/internal/middleware"
	"github.com/moosh3/ack-agent/internal/reasoning/engine"
	"github.com/moosh3/ack-agent/internal/reasoning/history"
)

// Deps are the components the server exposes over HTTP.
type Deps struct {
	Engine    engine.Engine
	Store     db.Store
	Artifacts artifact.Store
	Miner     *history.Miner
	AuditLog  audit.Logger
}

// Server represents the ack-agent HTTP server
type Server struct {
	config *Config

	// Core components
	engine    engine.Engine
	store     db.Store
	artifacts artifact.Store
	miner     *history.Miner
	auditLog  audit.Logger
	logger    *zap.Logger

	// HTTP server
	handler    http.Handler
	limiter    *middleware.RateLimiter
	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer creates a new ack-agent server
func NewServer(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if deps.Engine == nil || deps.Store == nil || deps.Artifacts == nil || deps.Miner == nil {
		return nil, fmt.Errorf("engine, store, artifacts and miner are required")
	}
	if deps.AuditLog == nil {
		deps.AuditLog = audit.NewNopLogger(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config:    cfg,
		engine:    deps.Engine,
		store:     deps.Store,
		artifacts: deps.Artifacts,
		miner:     deps.Miner,
		auditLog:  deps.AuditLog,
		logger:    deps.AuditLog.AppLogger().Named("server"),
		ctx:       ctx,
		cancel:    cancel,
	}
	srv.handler = srv.buildHandler()

	return srv, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// buildHandler assembles routes and middleware
func (s *Server) buildHandler() http.Handler {
	router := mux.NewRouter()
	s.registerRoutes(router)

	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog(s.logger))
	router.Use(middleware.MaxBodySize(s.config.MaxBodyBytes))
	if s.config.RateLimitPerMinute > 0 {
		s.limiter = middleware.NewRateLimiter(s.config.RateLimitPerMinute)
		router.Use(s.limiter.Middleware)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins(s.config.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
	})
	return c.Handler(router)
}

// registerRoutes registers HTTP handlers
func (s *Server) registerRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Incidents
	api.HandleFunc("/incidents", s.handleCreateIncident).Methods(http.MethodPost)
	api.HandleFunc("/incidents", s.handleListIncidents).Methods(http.MethodGet)
	api.HandleFunc("/incidents/{id}", s.handleGetIncident).Methods(http.MethodGet)
	api.HandleFunc("/incidents/{id}/findings", s.handleListFindings).Methods(http.MethodGet)
	api.HandleFunc("/incidents/{id}/artifacts", s.handleListArtifacts).Methods(http.MethodGet)
	api.HandleFunc("/incidents/{id}/report", s.handleGetReport).Methods(http.MethodGet)
	api.HandleFunc("/incidents/{id}/runs", s.handleListRuns).Methods(http.MethodGet)

	// Artifacts
	api.HandleFunc("/artifacts/{id}", s.handleGetArtifact).Methods(http.MethodGet)

	// Historical insights
	api.HandleFunc("/services/{service}/insights", s.handleGetInsights).Methods(http.MethodGet)

	// Runs
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/stream", s.handleRunStream).Methods(http.MethodGet)
}

// Start starts the server on the configured address
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ln)
}

// Serve starts serving on ln in the background. The listener is closed by
// Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	s.logger.Info("ack-agent server started", zap.String("addr", ln.Addr().String()))
	s.auditLog.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
		WithDescription("HTTP server started").
		WithMetadata("addr", ln.Addr().String()).
		WithResult(audit.ResultSuccess))

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping ack-agent server")

	// Streams watch s.ctx; cancel first so hijacked connections close.
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("error shutting down http server", zap.Error(err))
	}

	s.wg.Wait()
	s.Close()

	s.auditLog.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).
		WithDescription("HTTP server stopped").
		WithResult(audit.ResultSuccess))
	return nil
}

// Close releases background resources held by the handler. It is safe to
// call more than once.
func (s *Server) Close() {
	s.cancel()
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Wait blocks until the server is stopped
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// corsOrigins mirrors the stream origin policy for CORS.
func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return defaultOrigins
	}
	return allowed
}
