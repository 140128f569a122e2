package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admission-criteria-server/internal/domain"
)

func TestEvaluate_Scenario(t *testing.T) {
	note := "72-year-old male, O2 sat 85%, SBP 82, creatinine 2.1, troponin 0.09, infiltrate on CXR, started on IV vancomycin"

	result := EvaluateNote(note, domain.DefaultThresholds())

	assert.Equal(t, 13, result.Score)
	assert.Equal(t, domain.STRONGLY_SUPPORTED, result.Level)
	assert.Equal(t, []string{
		"Hypoxia documented: O2 sat 85% (<90%).",
		"Radiographic evidence consistent with pneumonia.",
		"Elevated creatinine 2.1 (> 1.5) suggesting AKI or renal impairment.",
		"Elevated troponin 0.09 (> 0.04) indicating myocardial injury.",
		"Hemodynamic instability: SBP 82 (<90).",
		"IV antibiotics documented (supports inpatient-level therapy).",
	}, result.Justifications)
	assert.Empty(t, result.MissingCriteria)
}

func TestEvaluate_EmptyNote(t *testing.T) {
	result := EvaluateNote("", domain.DefaultThresholds())

	assert.Equal(t, 0, result.Score)
	assert.Equal(t, domain.OBSERVATION_LIKELY, result.Level)
	assert.Empty(t, result.Justifications)
	require.Len(t, result.MissingCriteria, 6)

	criteria := make([]string, 0, len(result.MissingCriteria))
	for _, mc := range result.MissingCriteria {
		assert.Equal(t, "Missing", mc.Status)
		criteria = append(criteria, mc.Criteria)
	}
	assert.Equal(t, []string{
		"Oxygen saturation",
		"Radiographic evidence of pneumonia",
		"Creatinine",
		"Troponin documentation",
		"Blood pressure",
		"IV antibiotics (if required by guideline)",
	}, criteria)

	assert.Equal(t, "O2 < 90%", result.MissingCriteria[0].Guideline)
	assert.Equal(t, "Cr > 1.5", result.MissingCriteria[2].Guideline)
	assert.Equal(t, "Troponin > 0.04", result.MissingCriteria[3].Guideline)
	assert.Equal(t, "SBP < 90", result.MissingCriteria[4].Guideline)
}

func TestEvaluate_GuidelineTextUsesThresholds(t *testing.T) {
	rules := domain.ThresholdSet{O2Sat: 88, Troponin: 0.04, Creatinine: 2.0, SBP: 90}

	result := Evaluate(domain.ClinicalFeatures{}, rules)

	assert.Equal(t, "O2 < 88%", result.MissingCriteria[0].Guideline)
	assert.Equal(t, "Cr > 2.0", result.MissingCriteria[2].Guideline)
}

func TestEvaluate_DocumentedButNotCrossingThresholdIsSilent(t *testing.T) {
	features := domain.ClinicalFeatures{
		O2Sat:         intPtr(97),
		Creatinine:    floatPtr(0.9),
		Troponin:      floatPtr(0.01),
		SBP:           intPtr(130),
		Pneumonia:     true,
		IVAntibiotics: true,
	}

	result := Evaluate(features, domain.DefaultThresholds())

	assert.Equal(t, 2, result.Score)
	assert.Equal(t, domain.OBSERVATION_LIKELY, result.Level)
	assert.Empty(t, result.MissingCriteria)
	assert.Equal(t, []string{
		"Radiographic evidence consistent with pneumonia.",
		"IV antibiotics documented (supports inpatient-level therapy).",
	}, result.Justifications)
}

func TestEvaluate_ThresholdBoundaries(t *testing.T) {
	rules := domain.DefaultThresholds()

	// equal to the threshold never credits
	equal := Evaluate(domain.ClinicalFeatures{
		O2Sat:      intPtr(90),
		Creatinine: floatPtr(1.5),
		Troponin:   floatPtr(0.04),
		SBP:        intPtr(90),
	}, rules)
	assert.Equal(t, 0, equal.Score)

	crossing := Evaluate(domain.ClinicalFeatures{
		O2Sat:      intPtr(89),
		Creatinine: floatPtr(1.6),
		Troponin:   floatPtr(0.05),
		SBP:        intPtr(89),
	}, rules)
	assert.Equal(t, 11, crossing.Score)
}

func TestEvaluate_Hemodynamic(t *testing.T) {
	rules := domain.DefaultThresholds()

	tests := []struct {
		name          string
		features      domain.ClinicalFeatures
		points        int
		justification string
		missing       bool
	}{
		{
			name:          "Low SBP",
			features:      domain.ClinicalFeatures{SBP: intPtr(80)},
			points:        3,
			justification: "Hemodynamic instability: SBP 80 (<90).",
		},
		{
			name:          "Phrase with normal SBP",
			features:      domain.ClinicalFeatures{SBP: intPtr(110), HemodynamicPhrase: true},
			points:        3,
			justification: "Hemodynamic instability phrase found in notes (SBP 110).",
		},
		{
			name:          "Phrase and low SBP credit once",
			features:      domain.ClinicalFeatures{SBP: intPtr(70), HemodynamicPhrase: true},
			points:        3,
			justification: "Hemodynamic instability: SBP 70 (<90).",
		},
		{
			name:          "Phrase only",
			features:      domain.ClinicalFeatures{HemodynamicPhrase: true},
			points:        3,
			justification: "Hemodynamic instability phrase found in notes.",
		},
		{
			name:     "Normal SBP without phrase",
			features: domain.ClinicalFeatures{SBP: intPtr(120)},
		},
		{
			name:     "Nothing documented",
			features: domain.ClinicalFeatures{},
			missing:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := checkHemodynamic(tt.features, rules)

			assert.Equal(t, tt.points, outcome.Points)
			if tt.justification != "" {
				assert.Equal(t, OUTCOME_JUSTIFICATION, outcome.Kind)
				assert.Equal(t, tt.justification, outcome.Justification)
			}
			if tt.missing {
				assert.Equal(t, OUTCOME_MISSING, outcome.Kind)
				assert.Equal(t, "Blood pressure", outcome.Missing.Criteria)
			}
			if tt.justification == "" && !tt.missing {
				assert.Equal(t, OUTCOME_SILENT, outcome.Kind)
			}
		})
	}
}

func TestEvaluate_Age(t *testing.T) {
	rules := domain.DefaultThresholds()

	old := checkAge(domain.ClinicalFeatures{Age: intPtr(75)}, rules)
	assert.Equal(t, 1, old.Points)
	assert.Equal(t, "Advanced age: 75 years (increases risk).", old.Justification)

	young := checkAge(domain.ClinicalFeatures{Age: intPtr(74)}, rules)
	assert.Equal(t, OUTCOME_SILENT, young.Kind)

	// age never produces a missing criterion
	absent := checkAge(domain.ClinicalFeatures{}, rules)
	assert.Equal(t, OUTCOME_SILENT, absent.Kind)
}

func TestEvaluate_PossiblySupported(t *testing.T) {
	note := "Patient hypotensive, age 80, on ceftriaxone. SpO2 95%"

	result := EvaluateNote(note, domain.DefaultThresholds())

	// hemodynamic phrase 3 + age 1
	assert.Equal(t, 4, result.Score)
	assert.Equal(t, domain.POSSIBLY_SUPPORTED, result.Level)
}

func TestEvaluate_Idempotent(t *testing.T) {
	note := "81-year-old, SpO2 86%, BP 88/50, creatinine 1.9"
	rules := domain.DefaultThresholds()

	first := EvaluateNote(note, rules)
	second := EvaluateNote(note, rules)

	assert.Equal(t, first, second)
}

func TestEvaluate_ScoreIsOrderIndependent(t *testing.T) {
	features := ExtractFeatures("80-year-old, O2 sat 84%, troponin 1.2, hypotension, pneumonia")
	rules := domain.DefaultThresholds()
	checks := DefaultRuleChecks()

	reversed := make([]RuleCheck, len(checks))
	for i, c := range checks {
		reversed[len(checks)-1-i] = c
	}
	rotated := append(append([]RuleCheck{}, checks[3:]...), checks[:3]...)

	baseline := NewRuleEngineWithChecks(checks...).Evaluate(features, rules)
	for _, order := range [][]RuleCheck{reversed, rotated} {
		result := NewRuleEngineWithChecks(order...).Evaluate(features, rules)
		assert.Equal(t, baseline.Score, result.Score)
		assert.Equal(t, baseline.Level, result.Level)
		assert.ElementsMatch(t, baseline.Justifications, result.Justifications)
		assert.ElementsMatch(t, baseline.MissingCriteria, result.MissingCriteria)
	}
}

func TestEvaluate_EachSignalContributesOnce(t *testing.T) {
	rules := domain.DefaultThresholds()
	features := []domain.ClinicalFeatures{
		{},
		ExtractFeatures("72-year-old male, O2 sat 85%, SBP 82, creatinine 2.1, troponin 0.09"),
		{Pneumonia: true, IVAntibiotics: true, HemodynamicPhrase: true},
	}

	for _, f := range features {
		for _, check := range DefaultRuleChecks() {
			outcome := check.Check(f, rules)
			switch outcome.Kind {
			case OUTCOME_JUSTIFICATION:
				assert.Empty(t, outcome.Missing.Criteria, check.Name)
			case OUTCOME_MISSING:
				assert.Empty(t, outcome.Justification, check.Name)
				assert.Zero(t, outcome.Points, check.Name)
			case OUTCOME_SILENT:
				assert.Zero(t, outcome.Points, check.Name)
			}
		}
	}
}

func TestFormatDecimal(t *testing.T) {
	assert.Equal(t, "2.0", formatDecimal(2))
	assert.Equal(t, "1.5", formatDecimal(1.5))
	assert.Equal(t, "0.04", formatDecimal(0.04))
	assert.Equal(t, "14.0", formatDecimal(14))
}

func TestRuleEngine_Checks(t *testing.T) {
	engine := NewRuleEngine()

	checks := engine.Checks()
	names := make([]string, 0, len(checks))
	for _, c := range checks {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"hypoxia", "pneumonia", "renal", "cardiac", "hemodynamic", "age", "iv_antibiotics"}, names)

	// The returned slice is a copy.
	checks[0] = RuleCheck{Name: "replaced"}
	assert.Equal(t, "hypoxia", engine.Checks()[0].Name)
}

func TestEvaluate_NormalSaturationIsNotHypoxia(t *testing.T) {
	for _, note := range []string{"O2 sat 100%", "SpO2 100% on RA", "oxygen saturation 100 %"} {
		result := EvaluateNote(note, domain.DefaultThresholds())

		assert.Equal(t, 0, result.Score, note)
		assert.Empty(t, result.Justifications, note)
		for _, m := range result.MissingCriteria {
			assert.NotEqual(t, "Oxygen saturation", m.Criteria, note)
		}
	}
}
