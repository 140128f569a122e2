// Package api exposes the analyzer over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/admission-criteria-server/internal/domain"
	"github.com/admission-criteria-server/internal/feedback"
	"github.com/admission-criteria-server/internal/middleware"
	"github.com/admission-criteria-server/internal/service"
)

const Version = "1.0.0"

// HealthCheck reports a component's health; a non-nil error marks the
// service degraded.
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	analyzer      *service.AnalyzerService
	feedback      feedback.Store
	logger        *logrus.Logger
	checks        map[string]HealthCheck
	diagnostics   map[string]func() interface{}
	router        *gin.Engine
	server        *http.Server
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server)

// WithFeedbackStore enables the feedback endpoints.
func WithFeedbackStore(store feedback.Store) ServerOption {
	return func(s *Server) {
		s.feedback = store
	}
}

// WithHealthCheck adds a named component check to /health.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithDiagnostics adds a named snapshot (breaker state, cache stats) to /health.
func WithDiagnostics(name string, snapshot func() interface{}) ServerOption {
	return func(s *Server) {
		s.diagnostics[name] = snapshot
	}
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, analyzer *service.AnalyzerService, logger *logrus.Logger, opts ...ServerOption) *Server {
	cfg := configManager.GetConfig()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		configManager: configManager,
		analyzer:      analyzer,
		logger:        logger,
		checks:        make(map[string]HealthCheck),
		diagnostics:   make(map[string]func() interface{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := gin.New()
	router.Use(
		middleware.Recovery(logger),
		middleware.CorrelationID(),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Server.AllowedOrigins),
		middleware.RequestTimeout(cfg.Server.RequestTimeout),
		middleware.AuditLogger(logger),
	)
	s.router = router
	s.setupRoutes()

	return s
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"addr": addr,
			"tls":  cfg.TLSEnabled,
		}).Info("HTTP server listening")

		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("starting server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes. The analysis routes are served both
// under /api/v1 and at the root for clients of the first release.
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	s.registerRoutes(s.router.Group("/api/v1"))
	s.registerRoutes(s.router.Group(""))
}

func (s *Server) registerRoutes(g *gin.RouterGroup) {
	g.POST("/analyze", s.handleAnalyze)
	g.POST("/upload-and-analyze", s.handleUploadAndAnalyze)
	g.POST("/analyze-with-guideline", s.handleAnalyzeWithGuideline)
	g.POST("/thresholds/parse", s.handleParseThresholds)
	g.POST("/feedback", s.handleSubmitFeedback)
	g.GET("/feedback", s.handleListFeedback)
	g.GET("/analyses", s.handleListAnalyses)
	g.GET("/analyses/:id", s.handleGetAnalysis)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name](c.Request.Context()); err != nil {
			components[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	diagnostics := make(map[string]interface{}, len(s.diagnostics))
	for name, snapshot := range s.diagnostics {
		diagnostics[name] = snapshot()
	}

	c.JSON(code, gin.H{
		"status":      status,
		"timestamp":   time.Now().UTC(),
		"version":     Version,
		"components":  components,
		"diagnostics": diagnostics,
	})
}
