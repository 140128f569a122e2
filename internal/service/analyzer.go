package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/admission-criteria-server/internal/domain"
)

const (
	DefaultRewriteTimeout = 20 * time.Second
	DefaultExcerptLength  = 200

	// persistTimeout bounds the save that follows an analysis. The save is
	// detached from request cancellation.
	persistTimeout = 5 * time.Second
)

var (
	ErrRewriterNotConfigured = errors.New("note rewriter not configured")
	ErrNoDocumentExtractor   = errors.New("document extractor not configured")
)

type requestIDKey struct{}

// ContextWithRequestID attaches a request ID that is stored with persisted analyses.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request ID attached to ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// AnalyzerService wires document extraction, feature extraction, guideline
// parsing, scoring and note rewriting together.
type AnalyzerService struct {
	logger         *logrus.Logger
	engine         *RuleEngine
	documents      domain.DocumentExtractor
	rewriter       domain.NoteRewriter
	repository     domain.AnalysisRepository
	rewriteTimeout time.Duration
	excerptLength  int
}

// AnalyzerOption is a functional option for AnalyzerService.
type AnalyzerOption func(*AnalyzerService)

// WithDocumentExtractor sets the document-to-text collaborator.
func WithDocumentExtractor(documents domain.DocumentExtractor) AnalyzerOption {
	return func(a *AnalyzerService) {
		a.documents = documents
	}
}

// WithRewriter sets the note rewriter.
func WithRewriter(rewriter domain.NoteRewriter) AnalyzerOption {
	return func(a *AnalyzerService) {
		a.rewriter = rewriter
	}
}

// WithRepository enables persistence of completed analyses.
func WithRepository(repo domain.AnalysisRepository) AnalyzerOption {
	return func(a *AnalyzerService) {
		a.repository = repo
	}
}

// WithRewriteTimeout bounds each rewrite call.
func WithRewriteTimeout(timeout time.Duration) AnalyzerOption {
	return func(a *AnalyzerService) {
		if timeout > 0 {
			a.rewriteTimeout = timeout
		}
	}
}

// WithExcerptLength sets how many characters of guideline text are echoed back.
func WithExcerptLength(n int) AnalyzerOption {
	return func(a *AnalyzerService) {
		if n > 0 {
			a.excerptLength = n
		}
	}
}

// WithRuleEngine replaces the standard rule engine.
func WithRuleEngine(engine *RuleEngine) AnalyzerOption {
	return func(a *AnalyzerService) {
		if engine != nil {
			a.engine = engine
		}
	}
}

// NewAnalyzerService creates a new analyzer service
func NewAnalyzerService(logger *logrus.Logger, opts ...AnalyzerOption) *AnalyzerService {
	a := &AnalyzerService{
		logger:         logger,
		engine:         NewRuleEngine(),
		rewriteTimeout: DefaultRewriteTimeout,
		excerptLength:  DefaultExcerptLength,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze scores a note against the default thresholds and rewrites it.
func (a *AnalyzerService) Analyze(ctx context.Context, note string) *domain.NoteAnalysis {
	return a.AnalyzeWithRules(ctx, note, domain.DefaultThresholds())
}

// AnalyzeWithRules scores a note against the given thresholds and rewrites it.
// A failing rewriter degrades to the fallback note; the scoring output is
// always returned.
func (a *AnalyzerService) AnalyzeWithRules(ctx context.Context, note string, rules domain.ThresholdSet) *domain.NoteAnalysis {
	startTime := time.Now()

	features := ExtractFeatures(note)
	result := a.engine.Evaluate(features, rules)
	revised, rewriteFailed := a.rewrite(ctx, note, result.Justifications)

	analysis := &domain.NoteAnalysis{
		RevisedNote:     revised,
		MissingCriteria: result.MissingCriteria,
		Score:           result.Score,
		Level:           result.Level,
		Justifications:  result.Justifications,
		RewriteFailed:   rewriteFailed,
	}
	analysis.ID = a.persist(ctx, domain.SOURCE_NOTE, note, features, rules, result, rewriteFailed, startTime)

	a.logger.WithFields(logrus.Fields{
		"request_id":      RequestIDFromContext(ctx),
		"score":           result.Score,
		"level":           result.Level.String(),
		"missing":         len(result.MissingCriteria),
		"rewrite_failed":  rewriteFailed,
		"processing_time": time.Since(startTime),
	}).Info("Note analysis completed")

	return analysis
}

// ExtractDocument converts an uploaded document to plain text.
func (a *AnalyzerService) ExtractDocument(ctx context.Context, r io.Reader, filename string) (*domain.DocumentText, error) {
	text, err := a.extractText(ctx, r)
	if err != nil {
		a.logger.WithError(err).WithField("filename", filename).Warn("Failed to extract document text")
		return nil, fmt.Errorf("extracting text from %s: %w", filename, err)
	}
	return &domain.DocumentText{Filename: filename, Text: text}, nil
}

// AnalyzeWithGuideline reads a guideline document, derives thresholds from it
// and scores the note against them. The revised note is the original with the
// justifications appended; no rewrite is attempted.
func (a *AnalyzerService) AnalyzeWithGuideline(ctx context.Context, note string, guideline io.Reader, filename string) (*domain.GuidelineAnalysis, error) {
	startTime := time.Now()

	guidelineText, err := a.extractText(ctx, guideline)
	if err != nil {
		a.logger.WithError(err).WithField("filename", filename).Warn("Failed to read guideline")
		return nil, fmt.Errorf("reading guideline: %w", err)
	}

	report := ParseGuidelineReport(guidelineText)
	features := ExtractFeatures(note)
	result := a.engine.Evaluate(features, report.Thresholds)

	revised := note
	if len(result.Justifications) > 0 {
		revised += "\n\n" + strings.Join(result.Justifications, "\n")
	}

	analysis := &domain.GuidelineAnalysis{
		Filename:          filename,
		GuidelineExcerpt:  excerpt(guidelineText, a.excerptLength),
		RulesUsed:         report.Thresholds,
		OverriddenRules:   report.Overridden,
		FeaturesExtracted: features,
		Analysis: domain.NoteAnalysis{
			RevisedNote:     revised,
			MissingCriteria: result.MissingCriteria,
			Score:           result.Score,
			Level:           result.Level,
			Justifications:  result.Justifications,
		},
	}
	analysis.Analysis.ID = a.persist(ctx, domain.SOURCE_GUIDELINE, note, features, report.Thresholds, result, false, startTime)

	a.logger.WithFields(logrus.Fields{
		"request_id": RequestIDFromContext(ctx),
		"filename":   filename,
		"overridden": report.Overridden,
		"score":      result.Score,
		"level":      result.Level.String(),
	}).Info("Guideline analysis completed")

	return analysis, nil
}

// GetAnalysis returns a persisted analysis record.
func (a *AnalyzerService) GetAnalysis(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	if a.repository == nil {
		return nil, fmt.Errorf("analysis %s: %w", id, domain.ErrNotFound)
	}
	return a.repository.GetAnalysis(ctx, id)
}

// ListAnalyses returns persisted analyses, newest first. Without a repository
// the list is empty.
func (a *AnalyzerService) ListAnalyses(ctx context.Context, limit, offset int) ([]*domain.AnalysisRecord, error) {
	if a.repository == nil {
		return []*domain.AnalysisRecord{}, nil
	}
	return a.repository.ListAnalyses(ctx, limit, offset)
}

// PersistenceEnabled reports whether analyses are stored.
func (a *AnalyzerService) PersistenceEnabled() bool {
	return a.repository != nil
}

func (a *AnalyzerService) extractText(ctx context.Context, r io.Reader) (string, error) {
	if a.documents == nil {
		return "", ErrNoDocumentExtractor
	}
	return a.documents.ExtractText(ctx, r)
}

// rewrite calls the rewriter with a bounded timeout and falls back to the
// annotated original note on any failure.
func (a *AnalyzerService) rewrite(ctx context.Context, note string, justifications []string) (string, bool) {
	err := ErrRewriterNotConfigured
	if a.rewriter != nil {
		rewriteCtx, cancel := context.WithTimeout(ctx, a.rewriteTimeout)
		defer cancel()

		var revised string
		revised, err = a.rewriter.Rewrite(rewriteCtx, note, strings.Join(justifications, "\n"))
		if err == nil {
			return revised, false
		}
	}

	a.logger.WithError(err).WithField("request_id", RequestIDFromContext(ctx)).Warn("Note rewrite failed, using fallback note")
	return RewriteFallback(note, justifications, err), true
}

// RewriteFallback builds the revised note used when rewriting fails.
func RewriteFallback(note string, justifications []string, err error) string {
	return note + "\n\n" + strings.Join(justifications, "\n") + fmt.Sprintf("\n\n[LLM rewrite failed: %s]", err)
}

func (a *AnalyzerService) persist(
	ctx context.Context,
	source domain.AnalysisSource,
	note string,
	features domain.ClinicalFeatures,
	rules domain.ThresholdSet,
	result domain.EvaluationResult,
	rewriteFailed bool,
	startTime time.Time,
) string {
	if a.repository == nil {
		return ""
	}

	record := &domain.AnalysisRecord{
		ID:               uuid.New().String(),
		RequestID:        RequestIDFromContext(ctx),
		Source:           source,
		NoteHash:         HashNote(note),
		Score:            result.Score,
		Level:            result.Level,
		Thresholds:       rules,
		Features:         features,
		Justifications:   result.Justifications,
		MissingCriteria:  result.MissingCriteria,
		RewriteFailed:    rewriteFailed,
		ProcessingTimeMs: int(time.Since(startTime).Milliseconds()),
		CreatedAt:        time.Now().UTC(),
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := a.repository.SaveAnalysis(saveCtx, record); err != nil {
		a.logger.WithError(err).WithField("analysis_id", record.ID).Error("Failed to persist analysis")
		return ""
	}
	return record.ID
}

// HashNote returns a stable identifier for a note without storing its text.
func HashNote(note string) string {
	sum := sha256.Sum256([]byte(note))
	return hex.EncodeToString(sum[:])
}

func excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
