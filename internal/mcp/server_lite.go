// Package mcp exposes the analyzer as MCP tools.
// The lite server requires no external databases: rewrites are cached in
// memory and feedback is kept in SQLite.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	litecfg "github.com/admission-criteria-server/internal/config"
	"github.com/admission-criteria-server/internal/domain"
	"github.com/admission-criteria-server/internal/feedback"
	"github.com/admission-criteria-server/internal/service"
	"github.com/admission-criteria-server/pkg/external"
)

const (
	serverName    = "admission-criteria-mcp-lite"
	serverVersion = "v0.1.0"
)

// LiteServer is a lightweight MCP server that requires no external databases.
type LiteServer struct {
	config        *litecfg.LiteConfig
	mcpServer     *sdkmcp.Server
	analyzer      *service.AnalyzerService
	feedbackStore feedback.Store
	rewriteCache  *external.CachedRewriter
	rewriter      domain.NoteRewriter
	logger        *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithFeedbackStore sets a custom feedback store.
func WithFeedbackStore(store feedback.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.feedbackStore = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// WithNoteRewriter replaces the Groq client built from the API key.
func WithNoteRewriter(rewriter domain.NoteRewriter) LiteServerOption {
	return func(s *LiteServer) error {
		s.rewriter = rewriter
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		logger: logrus.New(),
	}

	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		server.logger.SetLevel(level)
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.feedbackStore == nil {
		store, err := feedback.NewSQLiteStore(cfg.FeedbackDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create feedback store: %w", err)
		}
		server.feedbackStore = store
	}

	if server.rewriter == nil && cfg.RewriterEnabled() {
		client, err := external.NewRewriterClient(domain.RewriterConfig{
			Enabled:     true,
			APIKey:      cfg.GroqAPIKey,
			Model:       cfg.RewriterModel,
			Temperature: 0.2,
			Timeout:     cfg.RewriteTimeout,
		}, server.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create rewriter: %w", err)
		}
		server.rewriter = client
	}

	analyzerOpts := []service.AnalyzerOption{
		service.WithDocumentExtractor(external.NewPDFExtractor(external.DefaultMaxDocumentBytes)),
		service.WithRewriteTimeout(cfg.RewriteTimeout),
	}
	if server.rewriter != nil {
		server.rewriteCache = external.NewCachedRewriter(
			server.rewriter,
			external.NewMemoryRewriteStore(cfg.CacheMaxItems, cfg.CacheTTL),
			nil,
			cfg.RewriterModel,
			cfg.CacheTTL,
			server.logger,
		)
		analyzerOpts = append(analyzerOpts, service.WithRewriter(server.rewriteCache))
	} else {
		server.logger.Warn("GROQ_API_KEY not set, analyze_note will return the annotated original note")
	}
	server.analyzer = service.NewAnalyzerService(server.logger, analyzerOpts...)

	server.mcpServer = sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	server.registerTools()

	server.logger.WithFields(logrus.Fields{
		"data_dir":  cfg.DataDir,
		"transport": cfg.Transport,
		"rewriter":  server.rewriter != nil,
	}).Info("Lite server initialized successfully")
	return server, nil
}

// Start runs the server on the configured transport until ctx is cancelled.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.WithField("transport", s.config.Transport).Info("Starting admission criteria MCP server (lite)")

	switch s.config.Transport {
	case "", "stdio":
		if err := s.mcpServer.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	case "http":
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport %q", s.config.Transport)
	}
}

func (s *LiteServer) serveHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server {
		return s.mcpServer
	}, nil))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", httpServer.Addr).Info("MCP HTTP transport listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("MCP HTTP transport failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.rewriteCache != nil {
		if err := s.rewriteCache.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close rewrite cache")
		}
	}
	if s.feedbackStore != nil {
		if err := s.feedbackStore.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close feedback store")
		}
	}
	return nil
}

// GetFeedbackStore returns the feedback store for external access.
func (s *LiteServer) GetFeedbackStore() feedback.Store {
	return s.feedbackStore
}

// RewriteCacheStats returns rewrite cache statistics, or false when no
// rewriter is configured.
func (s *LiteServer) RewriteCacheStats() (external.RewriteCacheStats, bool) {
	if s.rewriteCache == nil {
		return external.RewriteCacheStats{}, false
	}
	return s.rewriteCache.Stats(), true
}
