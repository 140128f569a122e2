// Package domain contains the core entities for admission-criteria analysis of
// physician notes: extracted clinical features, guideline thresholds, and the
// scored evaluation with its justifications and missing criteria.
package domain

import (
	"errors"
	"fmt"
)

// SupportLevel is the three-tier categorical output derived from the total score.
type SupportLevel string

const (
	STRONGLY_SUPPORTED SupportLevel = "Inpatient – strongly supported"
	POSSIBLY_SUPPORTED SupportLevel = "Inpatient – possibly supported / consider observation"
	OBSERVATION_LIKELY SupportLevel = "Observation / outpatient likely"
)

// Score bands, inclusive on the lower bound.
const (
	StrongSupportMinScore   = 6
	PossibleSupportMinScore = 3
)

// MissingStatus is the fixed status of every missing criterion.
const MissingStatus = "Missing"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidSupportLevel = errors.New("invalid support level")
)

// IsValid reports whether the level is one of the three known tiers.
func (l SupportLevel) IsValid() bool {
	switch l {
	case STRONGLY_SUPPORTED, POSSIBLY_SUPPORTED, OBSERVATION_LIKELY:
		return true
	default:
		return false
	}
}

// String returns the display label.
func (l SupportLevel) String() string {
	return string(l)
}

// Rank orders levels from least (0) to most (2) supportive.
func (l SupportLevel) Rank() int {
	switch l {
	case STRONGLY_SUPPORTED:
		return 2
	case POSSIBLY_SUPPORTED:
		return 1
	default:
		return 0
	}
}

// ParseSupportLevel validates a level label received from a client.
func ParseSupportLevel(s string) (SupportLevel, error) {
	level := SupportLevel(s)
	if !level.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSupportLevel, s)
	}
	return level, nil
}

// LevelForScore classifies a total score into a support level.
func LevelForScore(score int) SupportLevel {
	switch {
	case score >= StrongSupportMinScore:
		return STRONGLY_SUPPORTED
	case score >= PossibleSupportMinScore:
		return POSSIBLY_SUPPORTED
	default:
		return OBSERVATION_LIKELY
	}
}

// ClinicalFeatures holds the signals extracted from a single note.
// Nil pointers mean the signal was not documented.
type ClinicalFeatures struct {
	Age               *int     `json:"age"`
	O2Sat             *int     `json:"o2_sat"`
	Creatinine        *float64 `json:"creatinine"`
	Troponin          *float64 `json:"troponin"`
	SBP               *int     `json:"sbp"`
	Pneumonia         bool     `json:"pneumonia"`
	IVAntibiotics     bool     `json:"iv_antibiotics"`
	HemodynamicPhrase bool     `json:"hemodynamic_phrase"`
}

// ThresholdSet holds the numeric cutoffs used by the rule engine.
type ThresholdSet struct {
	O2Sat      int     `json:"o2_sat_threshold"`
	Troponin   float64 `json:"troponin_threshold"`
	Creatinine float64 `json:"creatinine_threshold"`
	SBP        int     `json:"sbp_threshold"`
}

// Default thresholds used when no guideline is supplied or a value is absent from it.
const (
	DefaultO2SatThreshold      = 90
	DefaultTroponinThreshold   = 0.04
	DefaultCreatinineThreshold = 1.5
	DefaultSBPThreshold        = 90
)

// DefaultThresholds returns the built-in threshold set.
func DefaultThresholds() ThresholdSet {
	return ThresholdSet{
		O2Sat:      DefaultO2SatThreshold,
		Troponin:   DefaultTroponinThreshold,
		Creatinine: DefaultCreatinineThreshold,
		SBP:        DefaultSBPThreshold,
	}
}

// MissingCriterion records a signal that was not documented.
type MissingCriterion struct {
	Criteria  string `json:"criteria"`
	Status    string `json:"status"`
	Evidence  string `json:"evidence"`
	Guideline string `json:"guideline"`
}

// NewMissingCriterion builds a criterion with the fixed "Missing" status.
func NewMissingCriterion(criteria, evidence, guideline string) MissingCriterion {
	return MissingCriterion{
		Criteria:  criteria,
		Status:    MissingStatus,
		Evidence:  evidence,
		Guideline: guideline,
	}
}

// EvaluationResult is the scored outcome for one note.
type EvaluationResult struct {
	Score           int                `json:"score"`
	Level           SupportLevel       `json:"level"`
	Justifications  []string           `json:"justifications"`
	MissingCriteria []MissingCriterion `json:"missingCriteria"`
}
