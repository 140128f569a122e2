package domain

import (
	"context"
	"io"
)

// DocumentExtractor turns an uploaded document into plain text.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, r io.Reader) (string, error)
}

// NoteRewriter rewrites a physician note using the analysis summary.
// Implementations call out to a generative model and may fail.
type NoteRewriter interface {
	Rewrite(ctx context.Context, originalNote, analysisSummary string) (string, error)
}

// AnalysisRepository persists completed analyses
type AnalysisRepository interface {
	SaveAnalysis(ctx context.Context, record *AnalysisRecord) error
	GetAnalysis(ctx context.Context, id string) (*AnalysisRecord, error)
	ListAnalyses(ctx context.Context, limit, offset int) ([]*AnalysisRecord, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetRewriterConfig() *RewriterConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
