package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/admission-criteria-server/internal/domain"
)

// OutcomeKind tags what a rule check contributed to an evaluation.
type OutcomeKind string

const (
	OUTCOME_JUSTIFICATION OutcomeKind = "JUSTIFICATION"
	OUTCOME_MISSING       OutcomeKind = "MISSING"
	// A documented value that does not cross its threshold adds nothing.
	OUTCOME_SILENT OutcomeKind = "SILENT"
)

// AdvancedAge is the age at which the age factor adds a point.
const AdvancedAge = 75

// CheckOutcome is the result of one rule check.
type CheckOutcome struct {
	Kind          OutcomeKind
	Points        int
	Justification string
	Missing       domain.MissingCriterion
}

func justified(points int, text string) CheckOutcome {
	return CheckOutcome{Kind: OUTCOME_JUSTIFICATION, Points: points, Justification: text}
}

func missing(criteria, evidence, guideline string) CheckOutcome {
	return CheckOutcome{Kind: OUTCOME_MISSING, Missing: domain.NewMissingCriterion(criteria, evidence, guideline)}
}

func silent() CheckOutcome {
	return CheckOutcome{Kind: OUTCOME_SILENT}
}

// RuleCheck evaluates one clinical signal against the thresholds.
type RuleCheck struct {
	Name  string
	Check func(f domain.ClinicalFeatures, t domain.ThresholdSet) CheckOutcome
}

// RuleEngine scores clinical features. It holds no mutable state and is safe
// for concurrent use.
type RuleEngine struct {
	checks []RuleCheck
}

// NewRuleEngine creates an engine with the standard check order:
// hypoxia, pneumonia, renal, cardiac, hemodynamic, age, IV antibiotics.
func NewRuleEngine() *RuleEngine {
	return NewRuleEngineWithChecks(DefaultRuleChecks()...)
}

// NewRuleEngineWithChecks creates an engine that runs checks in the given order.
func NewRuleEngineWithChecks(checks ...RuleCheck) *RuleEngine {
	return &RuleEngine{checks: append([]RuleCheck(nil), checks...)}
}

// Checks returns a copy of the engine's ordered checks.
func (e *RuleEngine) Checks() []RuleCheck {
	return append([]RuleCheck(nil), e.checks...)
}

// Evaluate scores the features. Justifications and missing criteria follow the
// check order; the score is a plain sum of check points.
func (e *RuleEngine) Evaluate(features domain.ClinicalFeatures, rules domain.ThresholdSet) domain.EvaluationResult {
	result := domain.EvaluationResult{
		Justifications:  []string{},
		MissingCriteria: []domain.MissingCriterion{},
	}

	for _, check := range e.checks {
		outcome := check.Check(features, rules)
		result.Score += outcome.Points

		switch outcome.Kind {
		case OUTCOME_JUSTIFICATION:
			result.Justifications = append(result.Justifications, outcome.Justification)
		case OUTCOME_MISSING:
			result.MissingCriteria = append(result.MissingCriteria, outcome.Missing)
		}
	}

	result.Level = domain.LevelForScore(result.Score)
	return result
}

// DefaultRuleChecks returns the standard checks in evaluation order.
func DefaultRuleChecks() []RuleCheck {
	return []RuleCheck{
		{Name: "hypoxia", Check: checkHypoxia},
		{Name: "pneumonia", Check: checkPneumonia},
		{Name: "renal", Check: checkRenal},
		{Name: "cardiac", Check: checkCardiac},
		{Name: "hemodynamic", Check: checkHemodynamic},
		{Name: "age", Check: checkAge},
		{Name: "iv_antibiotics", Check: checkIVAntibiotics},
	}
}

func checkHypoxia(f domain.ClinicalFeatures, t domain.ThresholdSet) CheckOutcome {
	if f.O2Sat == nil {
		return missing("Oxygen saturation", "No O2 saturation documented", fmt.Sprintf("O2 < %d%%", t.O2Sat))
	}
	if *f.O2Sat < t.O2Sat {
		return justified(3, fmt.Sprintf("Hypoxia documented: O2 sat %d%% (<%d%%).", *f.O2Sat, t.O2Sat))
	}
	return silent()
}

func checkPneumonia(f domain.ClinicalFeatures, _ domain.ThresholdSet) CheckOutcome {
	if f.Pneumonia {
		return justified(2, "Radiographic evidence consistent with pneumonia.")
	}
	return missing("Radiographic evidence of pneumonia", "No pneumonia language found", "CXR showing pneumonia")
}

func checkRenal(f domain.ClinicalFeatures, t domain.ThresholdSet) CheckOutcome {
	if f.Creatinine == nil {
		return missing("Creatinine", "No creatinine documented", "Cr > "+formatDecimal(t.Creatinine))
	}
	if *f.Creatinine > t.Creatinine {
		return justified(2, fmt.Sprintf("Elevated creatinine %s (> %s) suggesting AKI or renal impairment.",
			formatDecimal(*f.Creatinine), formatDecimal(t.Creatinine)))
	}
	return silent()
}

func checkCardiac(f domain.ClinicalFeatures, t domain.ThresholdSet) CheckOutcome {
	if f.Troponin == nil {
		return missing("Troponin documentation", "No troponin documented", "Troponin > "+formatDecimal(t.Troponin))
	}
	if *f.Troponin > t.Troponin {
		return justified(3, fmt.Sprintf("Elevated troponin %s (> %s) indicating myocardial injury.",
			formatDecimal(*f.Troponin), formatDecimal(t.Troponin)))
	}
	return silent()
}

// checkHemodynamic credits instability at most once, whether it comes from a
// low SBP, a qualitative phrase, or both.
func checkHemodynamic(f domain.ClinicalFeatures, t domain.ThresholdSet) CheckOutcome {
	if f.SBP != nil {
		switch {
		case *f.SBP < t.SBP:
			return justified(3, fmt.Sprintf("Hemodynamic instability: SBP %d (<%d).", *f.SBP, t.SBP))
		case f.HemodynamicPhrase:
			return justified(3, fmt.Sprintf("Hemodynamic instability phrase found in notes (SBP %d).", *f.SBP))
		}
		return silent()
	}
	if f.HemodynamicPhrase {
		return justified(3, "Hemodynamic instability phrase found in notes.")
	}
	return missing("Blood pressure", "No SBP documented", fmt.Sprintf("SBP < %d", t.SBP))
}

// checkAge never reports a missing criterion.
func checkAge(f domain.ClinicalFeatures, _ domain.ThresholdSet) CheckOutcome {
	if f.Age != nil && *f.Age >= AdvancedAge {
		return justified(1, fmt.Sprintf("Advanced age: %d years (increases risk).", *f.Age))
	}
	return silent()
}

func checkIVAntibiotics(f domain.ClinicalFeatures, _ domain.ThresholdSet) CheckOutcome {
	if f.IVAntibiotics {
		return justified(0, "IV antibiotics documented (supports inpatient-level therapy).")
	}
	return missing("IV antibiotics (if required by guideline)", "No IV antibiotics documented", "IV antibiotics order")
}

// formatDecimal prints a float the way clinicians write lab values:
// shortest form, always with a decimal point (2.0, 1.5, 0.04).
func formatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

var defaultEngine = NewRuleEngine()

// Evaluate scores features with the standard check order.
func Evaluate(features domain.ClinicalFeatures, rules domain.ThresholdSet) domain.EvaluationResult {
	return defaultEngine.Evaluate(features, rules)
}

// EvaluateNote extracts features from a note and scores them.
func EvaluateNote(note string, rules domain.ThresholdSet) domain.EvaluationResult {
	return Evaluate(ExtractFeatures(note), rules)
}
