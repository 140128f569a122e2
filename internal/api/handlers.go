package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/admission-criteria-server/internal/domain"
	"github.com/admission-criteria-server/internal/feedback"
	"github.com/admission-criteria-server/internal/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500

	// multipartOverhead leaves room for boundaries and the note field on top
	// of the document itself.
	multipartOverhead = 1 << 20
)

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Note *string `json:"note"`
}

// ParseThresholdsRequest is the body of POST /thresholds/parse.
type ParseThresholdsRequest struct {
	Text string `json:"text"`
}

// FeedbackRequest is the body of POST /feedback. Either the note text or its
// hash identifies the reviewed note; the text itself is not stored.
type FeedbackRequest struct {
	Note           string `json:"note,omitempty"`
	NoteHash       string `json:"note_hash,omitempty"`
	SuggestedLevel string `json:"suggested_level"`
	UserLevel      string `json:"user_level"`
	Score          int    `json:"score"`
	Notes          string `json:"notes,omitempty"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "Invalid JSON body", err.Error())
		return
	}
	if req.Note == nil {
		respondValidation(c, domain.NewValidationError("note", "note is required", nil))
		return
	}

	c.JSON(http.StatusOK, s.analyzer.Analyze(c.Request.Context(), *req.Note))
}

func (s *Server) handleUploadAndAnalyze(c *gin.Context) {
	s.limitBody(c)

	file, header, ok := s.formFile(c, "file")
	if !ok {
		return
	}
	defer file.Close()

	doc, err := s.analyzer.ExtractDocument(c.Request.Context(), file, header.Filename)
	if err != nil {
		s.respondDocumentError(c, "Failed to read document", err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleAnalyzeWithGuideline(c *gin.Context) {
	s.limitBody(c)

	file, header, ok := s.formFile(c, "guideline")
	if !ok {
		return
	}
	defer file.Close()

	note, present := c.GetPostForm("doctor_note")
	if !present {
		respondValidation(c, domain.NewValidationError("doctor_note", "doctor_note is required", nil))
		return
	}

	result, err := s.analyzer.AnalyzeWithGuideline(c.Request.Context(), note, file, header.Filename)
	if err != nil {
		s.respondDocumentError(c, "Failed to read guideline", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleParseThresholds(c *gin.Context) {
	var req ParseThresholdsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "Invalid JSON body", err.Error())
		return
	}

	c.JSON(http.StatusOK, service.ParseGuidelineReport(req.Text))
}

func (s *Server) handleSubmitFeedback(c *gin.Context) {
	if s.feedback == nil {
		respondError(c, http.StatusServiceUnavailable, domain.ErrServiceNotEnabled, "Feedback storage is not enabled", "")
		return
	}

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "Invalid JSON body", err.Error())
		return
	}

	noteHash := req.NoteHash
	if req.Note != "" {
		noteHash = service.HashNote(req.Note)
	}

	fb := &feedback.Feedback{
		NoteHash:       noteHash,
		SuggestedLevel: domain.SupportLevel(req.SuggestedLevel),
		UserLevel:      domain.SupportLevel(req.UserLevel),
		Score:          req.Score,
		Notes:          req.Notes,
	}

	if err := s.feedback.Save(c.Request.Context(), fb); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			respondValidation(c, verr)
			return
		}
		s.logger.WithError(err).Error("Failed to save feedback")
		respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "Failed to save feedback", "")
		return
	}

	c.JSON(http.StatusCreated, fb)
}

func (s *Server) handleListFeedback(c *gin.Context) {
	if s.feedback == nil {
		respondError(c, http.StatusServiceUnavailable, domain.ErrServiceNotEnabled, "Feedback storage is not enabled", "")
		return
	}

	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	entries, err := s.feedback.List(ctx, limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list feedback")
		respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "Failed to list feedback", "")
		return
	}
	total, err := s.feedback.Count(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to count feedback")
		respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "Failed to count feedback", "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feedback": entries,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleListAnalyses(c *gin.Context) {
	if !s.analyzer.PersistenceEnabled() {
		respondError(c, http.StatusServiceUnavailable, domain.ErrServiceNotEnabled, "Analysis persistence is not enabled", "")
		return
	}

	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	records, err := s.analyzer.ListAnalyses(c.Request.Context(), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list analyses")
		respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "Failed to list analyses", "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"analyses": records, "limit": limit, "offset": offset})
}

func (s *Server) handleGetAnalysis(c *gin.Context) {
	if !s.analyzer.PersistenceEnabled() {
		respondError(c, http.StatusServiceUnavailable, domain.ErrServiceNotEnabled, "Analysis persistence is not enabled", "")
		return
	}

	id := c.Param("id")
	record, err := s.analyzer.GetAnalysis(c.Request.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		respondError(c, http.StatusNotFound, domain.ErrNotFoundCode, "Analysis not found", id)
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("analysis_id", id).Error("Failed to load analysis")
		respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "Failed to load analysis", "")
		return
	}

	c.JSON(http.StatusOK, record)
}

// limitBody caps multipart uploads at the configured document size.
func (s *Server) limitBody(c *gin.Context) {
	limit := s.configManager.GetConfig().Analysis.MaxUploadBytes
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}
}

func (s *Server) formFile(c *gin.Context, field string) (multipart.File, *multipart.FileHeader, bool) {
	header, err := c.FormFile(field)
	if err != nil {
		if isBodyTooLarge(err) {
			respondError(c, http.StatusRequestEntityTooLarge, domain.ErrPayloadTooLarge, "Upload exceeds size limit", "")
			return nil, nil, false
		}
		respondValidation(c, domain.NewValidationError(field, fmt.Sprintf("%s file is required", field), nil))
		return nil, nil, false
	}
	if limit := s.configManager.GetConfig().Analysis.MaxUploadBytes; limit > 0 && header.Size > limit {
		respondError(c, http.StatusRequestEntityTooLarge, domain.ErrPayloadTooLarge, "Upload exceeds size limit", header.Filename)
		return nil, nil, false
	}

	file, err := header.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "Failed to open upload", err.Error())
		return nil, nil, false
	}
	return file, header, true
}

// respondDocumentError maps collaborator failures: a missing extractor is a
// 503, everything else is reported as an unreadable document.
func (s *Server) respondDocumentError(c *gin.Context, message string, err error) {
	if errors.Is(err, service.ErrNoDocumentExtractor) {
		respondError(c, http.StatusServiceUnavailable, domain.ErrServiceNotEnabled, "Document extraction is not enabled", "")
		return
	}
	respondError(c, http.StatusUnprocessableEntity, domain.ErrDocumentRead, message, err.Error())
}

func pagination(c *gin.Context) (limit, offset int, ok bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		respondValidation(c, domain.NewValidationError("limit", "limit must be a positive integer", c.Query("limit")))
		return 0, 0, false
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		respondValidation(c, domain.NewValidationError("offset", "offset must be a non-negative integer", c.Query("offset")))
		return 0, 0, false
	}
	return limit, offset, true
}
