package domain

import (
	"time"
)

// GuidelineReport is a parsed threshold set plus the fields the guideline overrode.
type GuidelineReport struct {
	Thresholds ThresholdSet `json:"thresholds"`
	Overridden []string     `json:"overridden"`
}

// AnalysisSource identifies which request shape produced an analysis.
type AnalysisSource string

const (
	SOURCE_NOTE      AnalysisSource = "note"
	SOURCE_GUIDELINE AnalysisSource = "guideline"
)

// NoteAnalysis is the response of a plain note analysis.
type NoteAnalysis struct {
	ID              string             `json:"id,omitempty"`
	RevisedNote     string             `json:"revisedNote"`
	MissingCriteria []MissingCriterion `json:"missingCriteria"`
	Score           int                `json:"score"`
	Level           SupportLevel       `json:"level"`
	Justifications  []string           `json:"justifications"`
	RewriteFailed   bool               `json:"rewriteFailed,omitempty"`
}

// DocumentText is the plain text extracted from an uploaded document.
type DocumentText struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// GuidelineAnalysis is the response of a note analyzed against an uploaded guideline.
type GuidelineAnalysis struct {
	Filename          string           `json:"filename"`
	GuidelineExcerpt  string           `json:"guideline_excerpt"`
	RulesUsed         ThresholdSet     `json:"rules_used"`
	OverriddenRules   []string         `json:"overridden_rules"`
	FeaturesExtracted ClinicalFeatures `json:"features_extracted"`
	Analysis          NoteAnalysis     `json:"analysis"`
}

// AnalysisRecord is the persisted audit trail of one analysis.
type AnalysisRecord struct {
	ID               string             `json:"id"`
	RequestID        string             `json:"request_id,omitempty"`
	Source           AnalysisSource     `json:"source"`
	NoteHash         string             `json:"note_hash"`
	Score            int                `json:"score"`
	Level            SupportLevel       `json:"level"`
	Thresholds       ThresholdSet       `json:"thresholds"`
	Features         ClinicalFeatures   `json:"features"`
	Justifications   []string           `json:"justifications"`
	MissingCriteria  []MissingCriterion `json:"missing_criteria"`
	RewriteFailed    bool               `json:"rewrite_failed"`
	ProcessingTimeMs int                `json:"processing_time_ms"`
	CreatedAt        time.Time          `json:"created_at"`
}
