// Package config provides configuration management for the admission criteria server.
// This file contains the lightweight configuration for the standalone MCP binary.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Rewrite cache settings
	CacheMaxItems int           // Maximum rewrites kept in memory
	CacheTTL      time.Duration // How long a rewrite stays cached

	// Rewriter settings
	GroqAPIKey     string        // Optional: enables note rewriting
	RewriterModel  string        // Chat model used for rewriting
	RewriteTimeout time.Duration // Upper bound on one rewrite

	// Transport settings
	Transport string // Transport type: stdio, http
	HTTPPort  int    // HTTP port (if transport is http)

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".admission-criteria")

	return &LiteConfig{
		DataDir:        dataDir,
		CacheMaxItems:  500,
		CacheTTL:       6 * time.Hour,
		RewriterModel:  "llama-3.3-70b-versatile",
		RewriteTimeout: 20 * time.Second,
		Transport:      "stdio",
		HTTPPort:       8081,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("ADMISSION_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("ADMISSION_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("ADMISSION_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	if v := os.Getenv("ADMISSION_REWRITER_MODEL"); v != "" {
		cfg.RewriterModel = v
	}
	if v := os.Getenv("ADMISSION_REWRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RewriteTimeout = d
		}
	}

	if v := os.Getenv("ADMISSION_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("ADMISSION_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("ADMISSION_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ADMISSION_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// RewriterEnabled reports whether an API key was supplied.
func (c *LiteConfig) RewriterEnabled() bool {
	return c.GroqAPIKey != ""
}

// FeedbackDBPath returns the path to the feedback SQLite database.
func (c *LiteConfig) FeedbackDBPath() string {
	return filepath.Join(c.DataDir, "feedback.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
