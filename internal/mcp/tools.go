package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/admission-criteria-server/internal/domain"
	"github.com/admission-criteria-server/internal/feedback"
	"github.com/admission-criteria-server/internal/service"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (s *LiteServer) registerTools() {
	sdkmcp.AddTool(s.mcpServer, &sdkmcp.Tool{
		Name:        "analyze_note",
		Description: "Score a physician note against default inpatient admission thresholds. Returns the score, support level, justifications, missing documentation and a payer-focused rewrite.",
	}, s.handleAnalyzeNote)

	sdkmcp.AddTool(s.mcpServer, &sdkmcp.Tool{
		Name:        "analyze_with_guideline",
		Description: "Score a physician note against thresholds read from a local guideline PDF.",
	}, s.handleAnalyzeWithGuideline)

	sdkmcp.AddTool(s.mcpServer, &sdkmcp.Tool{
		Name:        "parse_guideline",
		Description: "Derive O2 saturation, troponin, creatinine and SBP thresholds from guideline text. Fields not found keep their defaults.",
	}, s.handleParseGuideline)

	sdkmcp.AddTool(s.mcpServer, &sdkmcp.Tool{
		Name:        "extract_features",
		Description: "Extract age, vitals, labs and key phrases from a physician note without scoring it.",
	}, s.handleExtractFeatures)

	sdkmcp.AddTool(s.mcpServer, &sdkmcp.Tool{
		Name:        "submit_feedback",
		Description: "Record whether a clinician agrees with the suggested support level for a note. The note text is hashed, never stored.",
	}, s.handleSubmitFeedback)

	sdkmcp.AddTool(s.mcpServer, &sdkmcp.Tool{
		Name:        "query_feedback",
		Description: "Look up saved feedback for a note.",
	}, s.handleQueryFeedback)

	sdkmcp.AddTool(s.mcpServer, &sdkmcp.Tool{
		Name:        "list_feedback",
		Description: "List saved feedback entries with pagination, newest first.",
	}, s.handleListFeedback)

	sdkmcp.AddTool(s.mcpServer, &sdkmcp.Tool{
		Name:        "export_feedback",
		Description: "Export all saved feedback to a JSON file for backup.",
	}, s.handleExportFeedback)

	sdkmcp.AddTool(s.mcpServer, &sdkmcp.Tool{
		Name:        "import_feedback",
		Description: "Import feedback from a JSON backup file. Skips notes that already have feedback.",
	}, s.handleImportFeedback)

	s.logger.WithField("tool_count", 9).Debug("Registered MCP tools")
}

// --- Tool input/output types ---

type noteInput struct {
	Note string `json:"note" jsonschema:"free-text physician note"`
}

type analyzeNoteOutput struct {
	NoteHash string              `json:"note_hash"`
	Analysis domain.NoteAnalysis `json:"analysis"`
}

type analyzeWithGuidelineInput struct {
	Note          string `json:"note" jsonschema:"free-text physician note"`
	GuidelinePath string `json:"guideline_path" jsonschema:"path to a guideline PDF on the local filesystem"`
}

type parseGuidelineInput struct {
	Text string `json:"text" jsonschema:"guideline text"`
}

type extractFeaturesOutput struct {
	NoteHash string                  `json:"note_hash"`
	Features domain.ClinicalFeatures `json:"features"`
}

type noteRefInput struct {
	Note     string `json:"note,omitempty" jsonschema:"note text; hashed before lookup"`
	NoteHash string `json:"note_hash,omitempty" jsonschema:"note hash returned by analyze_note"`
}

type submitFeedbackInput struct {
	Note           string `json:"note,omitempty" jsonschema:"note text; hashed before storing"`
	NoteHash       string `json:"note_hash,omitempty" jsonschema:"note hash returned by analyze_note"`
	SuggestedLevel string `json:"suggested_level" jsonschema:"level suggested by the analyzer"`
	UserLevel      string `json:"user_level" jsonschema:"level chosen by the reviewer"`
	Score          int    `json:"score,omitempty" jsonschema:"score reported by the analyzer"`
	Notes          string `json:"notes,omitempty" jsonschema:"free-text reviewer comment"`
}

// feedbackView is a Feedback with RFC 3339 timestamps.
type feedbackView struct {
	ID             int64  `json:"id"`
	NoteHash       string `json:"note_hash"`
	SuggestedLevel string `json:"suggested_level"`
	UserLevel      string `json:"user_level"`
	UserAgreed     bool   `json:"user_agreed"`
	Score          int    `json:"score"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type queryFeedbackOutput struct {
	Found    bool          `json:"found"`
	Feedback *feedbackView `json:"feedback,omitempty"`
}

type listFeedbackInput struct {
	Limit  int `json:"limit,omitempty" jsonschema:"page size (default 20, max 100)"`
	Offset int `json:"offset,omitempty" jsonschema:"entries to skip"`
}

type listFeedbackOutput struct {
	Feedback []feedbackView `json:"feedback"`
	Total    int64          `json:"total"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

type exportFeedbackInput struct{}

type exportFeedbackOutput struct {
	FilePath string `json:"file_path"`
	Count    int64  `json:"count"`
	Message  string `json:"message"`
}

type importFeedbackInput struct {
	FilePath string `json:"file_path" jsonschema:"path to the JSON file to import"`
}

type importFeedbackOutput struct {
	Imported int    `json:"imported"`
	Skipped  int    `json:"skipped"`
	Message  string `json:"message"`
}

// --- Handlers ---

func (s *LiteServer) handleAnalyzeNote(ctx context.Context, _ *sdkmcp.CallToolRequest, input noteInput) (*sdkmcp.CallToolResult, analyzeNoteOutput, error) {
	analysis := s.analyzer.Analyze(ctx, input.Note)
	return nil, analyzeNoteOutput{
		NoteHash: service.HashNote(input.Note),
		Analysis: *analysis,
	}, nil
}

func (s *LiteServer) handleAnalyzeWithGuideline(ctx context.Context, _ *sdkmcp.CallToolRequest, input analyzeWithGuidelineInput) (*sdkmcp.CallToolResult, domain.GuidelineAnalysis, error) {
	if input.GuidelinePath == "" {
		return nil, domain.GuidelineAnalysis{}, errors.New("guideline_path is required")
	}

	file, err := os.Open(input.GuidelinePath)
	if err != nil {
		return nil, domain.GuidelineAnalysis{}, fmt.Errorf("failed to read guideline: %w", err)
	}
	defer file.Close()

	result, err := s.analyzer.AnalyzeWithGuideline(ctx, input.Note, file, filepath.Base(input.GuidelinePath))
	if err != nil {
		return nil, domain.GuidelineAnalysis{}, err
	}
	return nil, *result, nil
}

func (s *LiteServer) handleParseGuideline(_ context.Context, _ *sdkmcp.CallToolRequest, input parseGuidelineInput) (*sdkmcp.CallToolResult, domain.GuidelineReport, error) {
	return nil, service.ParseGuidelineReport(input.Text), nil
}

func (s *LiteServer) handleExtractFeatures(_ context.Context, _ *sdkmcp.CallToolRequest, input noteInput) (*sdkmcp.CallToolResult, extractFeaturesOutput, error) {
	return nil, extractFeaturesOutput{
		NoteHash: service.HashNote(input.Note),
		Features: service.ExtractFeatures(input.Note),
	}, nil
}

func (s *LiteServer) handleSubmitFeedback(ctx context.Context, _ *sdkmcp.CallToolRequest, input submitFeedbackInput) (*sdkmcp.CallToolResult, feedbackView, error) {
	fb := &feedback.Feedback{
		NoteHash:       resolveNoteHash(input.Note, input.NoteHash),
		SuggestedLevel: domain.SupportLevel(input.SuggestedLevel),
		UserLevel:      domain.SupportLevel(input.UserLevel),
		Score:          input.Score,
		Notes:          input.Notes,
	}

	if err := s.feedbackStore.Save(ctx, fb); err != nil {
		s.logger.WithError(err).Warn("Failed to save feedback")
		return nil, feedbackView{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"feedback_id": fb.ID,
		"user_agreed": fb.UserAgreed,
	}).Info("Feedback saved")
	return nil, toView(fb), nil
}

func (s *LiteServer) handleQueryFeedback(ctx context.Context, _ *sdkmcp.CallToolRequest, input noteRefInput) (*sdkmcp.CallToolResult, queryFeedbackOutput, error) {
	hash := resolveNoteHash(input.Note, input.NoteHash)
	if hash == "" {
		return nil, queryFeedbackOutput{}, errors.New("note or note_hash is required")
	}

	fb, err := s.feedbackStore.Get(ctx, hash)
	if errors.Is(err, feedback.ErrFeedbackNotFound) {
		return nil, queryFeedbackOutput{Found: false}, nil
	}
	if err != nil {
		return nil, queryFeedbackOutput{}, err
	}

	view := toView(fb)
	return nil, queryFeedbackOutput{Found: true, Feedback: &view}, nil
}

func (s *LiteServer) handleListFeedback(ctx context.Context, _ *sdkmcp.CallToolRequest, input listFeedbackInput) (*sdkmcp.CallToolResult, listFeedbackOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	entries, err := s.feedbackStore.List(ctx, limit, offset)
	if err != nil {
		return nil, listFeedbackOutput{}, fmt.Errorf("listing feedback: %w", err)
	}
	total, err := s.feedbackStore.Count(ctx)
	if err != nil {
		return nil, listFeedbackOutput{}, fmt.Errorf("counting feedback: %w", err)
	}

	views := make([]feedbackView, 0, len(entries))
	for _, fb := range entries {
		views = append(views, toView(fb))
	}
	return nil, listFeedbackOutput{Feedback: views, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *LiteServer) handleExportFeedback(ctx context.Context, _ *sdkmcp.CallToolRequest, _ exportFeedbackInput) (*sdkmcp.CallToolResult, exportFeedbackOutput, error) {
	exportDir := s.config.ExportDir()
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return nil, exportFeedbackOutput{}, fmt.Errorf("creating export directory: %w", err)
	}

	filePath := filepath.Join(exportDir, fmt.Sprintf("feedback_export_%s.json", time.Now().Format("20060102_150405")))
	file, err := os.Create(filePath)
	if err != nil {
		return nil, exportFeedbackOutput{}, fmt.Errorf("creating export file: %w", err)
	}
	defer file.Close()

	if err := s.feedbackStore.ExportJSON(ctx, file); err != nil {
		s.logger.WithError(err).Error("Failed to export feedback")
		return nil, exportFeedbackOutput{}, err
	}

	count, _ := s.feedbackStore.Count(ctx)
	return nil, exportFeedbackOutput{
		FilePath: filePath,
		Count:    count,
		Message:  fmt.Sprintf("Exported %d feedback entries to %s", count, filePath),
	}, nil
}

func (s *LiteServer) handleImportFeedback(ctx context.Context, _ *sdkmcp.CallToolRequest, input importFeedbackInput) (*sdkmcp.CallToolResult, importFeedbackOutput, error) {
	if input.FilePath == "" {
		return nil, importFeedbackOutput{}, errors.New("file_path is required")
	}

	file, err := os.Open(input.FilePath)
	if err != nil {
		return nil, importFeedbackOutput{}, fmt.Errorf("opening import file: %w", err)
	}
	defer file.Close()

	imported, skipped, err := s.feedbackStore.ImportJSON(ctx, file)
	if err != nil {
		s.logger.WithError(err).Error("Failed to import feedback")
		return nil, importFeedbackOutput{}, err
	}

	return nil, importFeedbackOutput{
		Imported: imported,
		Skipped:  skipped,
		Message:  fmt.Sprintf("Imported %d entries, skipped %d", imported, skipped),
	}, nil
}

func resolveNoteHash(note, noteHash string) string {
	if note != "" {
		return service.HashNote(note)
	}
	return noteHash
}

func toView(fb *feedback.Feedback) feedbackView {
	return feedbackView{
		ID:             fb.ID,
		NoteHash:       fb.NoteHash,
		SuggestedLevel: string(fb.SuggestedLevel),
		UserLevel:      string(fb.UserLevel),
		UserAgreed:     fb.UserAgreed,
		Score:          fb.Score,
		Notes:          fb.Notes,
		CreatedAt:      fb.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      fb.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
