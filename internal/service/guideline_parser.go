package service

import (
	"regexp"
	"strconv"

	"github.com/admission-criteria-server/internal/domain"
)

// Threshold field names reported in domain.GuidelineReport.Overridden.
const (
	FieldO2Sat      = "o2_sat_threshold"
	FieldTroponin   = "troponin_threshold"
	FieldCreatinine = "creatinine_threshold"
	FieldSBP        = "sbp_threshold"
)

// thresholdRule overrides one ThresholdSet field when its pattern matches.
// The lookahead between the alias and the number never crosses a newline.
type thresholdRule struct {
	field   string
	pattern *regexp.Regexp
	apply   func(t *domain.ThresholdSet, token string) bool
}

var numberToken = regexp.MustCompile(`[0-9]*\.[0-9]+|[0-9]+`)

var thresholdRules = []thresholdRule{
	{
		field:   FieldO2Sat,
		pattern: regexp.MustCompile(`(?i)(?:o2|spo2|saturation)[^\d<\n]{0,40}<?\s*(\d{2,3})\b`),
		apply: func(t *domain.ThresholdSet, token string) bool {
			v, err := strconv.Atoi(token)
			if err != nil || v > maxSaturation {
				return false
			}
			t.O2Sat = v
			return true
		},
	},
	{
		field:   FieldTroponin,
		pattern: regexp.MustCompile(`(?i)troponin[^\d.\n]{0,40}([<>]=?\s*[0-9]*\.[0-9]+|[<>]=?\s*[0-9]+)`),
		apply: func(t *domain.ThresholdSet, token string) bool {
			v, ok := operatorNumber(token)
			if !ok {
				return false
			}
			t.Troponin = v
			return true
		},
	},
	{
		field:   FieldCreatinine,
		pattern: regexp.MustCompile(`(?i)creatinine[^\d.\n]{0,40}([<>]=?\s*[0-9]*\.[0-9]+|[<>]=?\s*[0-9]+)`),
		apply: func(t *domain.ThresholdSet, token string) bool {
			v, ok := operatorNumber(token)
			if !ok {
				return false
			}
			t.Creatinine = v
			return true
		},
	},
	{
		field:   FieldSBP,
		pattern: regexp.MustCompile(`(?i)(?:systolic|sbp|blood pressure)[^\d<\n]{0,40}<?\s*(\d{2,3})`),
		apply: func(t *domain.ThresholdSet, token string) bool {
			v, err := strconv.Atoi(token)
			if err != nil {
				return false
			}
			t.SBP = v
			return true
		},
	},
}

// operatorNumber strips a comparison operator such as ">=" from a token.
func operatorNumber(token string) (float64, bool) {
	num := numberToken.FindString(token)
	if num == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseGuidelineReport heuristically extracts thresholds from guideline text.
// Every field starts at its default and is overridden independently.
func ParseGuidelineReport(text string) domain.GuidelineReport {
	report := domain.GuidelineReport{
		Thresholds: domain.DefaultThresholds(),
		Overridden: []string{},
	}

	for _, rule := range thresholdRules {
		m := rule.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if rule.apply(&report.Thresholds, m[1]) {
			report.Overridden = append(report.Overridden, rule.field)
		}
	}

	return report
}

// ParseGuideline returns the complete threshold set for a guideline text.
func ParseGuideline(text string) domain.ThresholdSet {
	return ParseGuidelineReport(text).Thresholds
}
