package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/admission-criteria-server/internal/api"
	"github.com/admission-criteria-server/internal/config"
	"github.com/admission-criteria-server/internal/database"
	"github.com/admission-criteria-server/internal/domain"
	"github.com/admission-criteria-server/internal/feedback"
	"github.com/admission-criteria-server/internal/repository"
	"github.com/admission-criteria-server/internal/service"
	"github.com/admission-criteria-server/pkg/external"
)

const memoryCacheSize = 500

func main() {
	// Optional; real environment variables win.
	_ = godotenv.Load()

	configManager, err := config.NewManager()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"persist": cfg.Analysis.Persist,
	}).Info("Starting admission criteria server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	analyzerOpts := []service.AnalyzerOption{
		service.WithDocumentExtractor(external.NewPDFExtractor(cfg.Analysis.MaxUploadBytes)),
		service.WithRewriteTimeout(cfg.Analysis.RewriteTimeout),
		service.WithExcerptLength(cfg.Analysis.ExcerptLength),
	}
	var serverOpts []api.ServerOption

	// Note rewriter with a memory tier and an optional Redis tier
	rewriteCache, rewriterOpts := newRewriter(cfg, logger)
	if rewriteCache != nil {
		defer rewriteCache.Close()
		analyzerOpts = append(analyzerOpts, service.WithRewriter(rewriteCache))
		serverOpts = append(serverOpts, rewriterOpts...)
	} else {
		logger.Warn("Note rewriter disabled, analyses will return the annotated original note")
	}

	// Storage
	var feedbackStore feedback.Store
	if cfg.Analysis.Persist {
		databaseURL := configManager.GetDatabaseURL()

		runner, err := database.NewMigrationRunner(databaseURL, cfg.Database.MigrationsPath, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create migration runner")
		}
		if err := runner.Up(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
		if err := runner.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close migration runner")
		}

		db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		analyzerOpts = append(analyzerOpts, service.WithRepository(repository.NewAnalysisRepository(db.Pool, logger)))
		serverOpts = append(serverOpts,
			api.WithHealthCheck("database", db.Health),
			api.WithDiagnostics("database_pool", func() interface{} {
				stats := db.Stats()
				return map[string]int32{
					"total_conns":    stats.TotalConns(),
					"idle_conns":     stats.IdleConns(),
					"acquired_conns": stats.AcquiredConns(),
				}
			}),
		)

		pgStore, err := feedback.NewPostgresStoreFromURL(databaseURL, cfg.Database)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create feedback store")
		}
		feedbackStore = pgStore
	} else {
		sqliteStore, err := feedback.NewSQLiteStore(cfg.Analysis.FeedbackDBPath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create feedback store")
		}
		logger.WithField("path", sqliteStore.Path()).Info("Using SQLite feedback store")
		feedbackStore = sqliteStore
	}
	defer feedbackStore.Close()
	serverOpts = append(serverOpts, api.WithFeedbackStore(feedbackStore))

	analyzer := service.NewAnalyzerService(logger, analyzerOpts...)
	server := api.NewServer(configManager, analyzer, logger, serverOpts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	var out io.Writer = os.Stdout
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			logger.WithError(err).Warn("Failed to open log file, using stdout")
		} else {
			out = f
		}
	}
	logger.SetOutput(out)

	return logger
}

// newRewriter returns nil when rewriting is disabled or no API key is set.
// The options expose breaker and cache state on /health.
func newRewriter(cfg *domain.Config, logger *logrus.Logger) (*external.CachedRewriter, []api.ServerOption) {
	if !cfg.Rewriter.Enabled || cfg.Rewriter.APIKey == "" {
		return nil, nil
	}

	client, err := external.NewRewriterClient(cfg.Rewriter, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create note rewriter")
	}

	opts := []api.ServerOption{
		api.WithDiagnostics("rewriter_breaker", func() interface{} { return client.BreakerStatus() }),
	}

	var shared external.RewriteStore
	if cfg.Cache.Enabled {
		redisStore, err := external.NewRedisRewriteStore(cfg.Cache)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, rewrite cache is memory only")
		} else {
			shared = redisStore
			opts = append(opts, api.WithHealthCheck("redis", redisStore.Ping))
		}
	}

	cache := external.NewCachedRewriter(
		client,
		external.NewMemoryRewriteStore(memoryCacheSize, cfg.Cache.DefaultTTL),
		shared,
		client.Model(),
		cfg.Cache.DefaultTTL,
		logger,
	)
	opts = append(opts, api.WithDiagnostics("rewrite_cache", func() interface{} { return cache.Stats() }))
	return cache, opts
}
