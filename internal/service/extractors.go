package service

import (
	"regexp"
	"strconv"

	"github.com/admission-criteria-server/internal/domain"
)

// patternRule captures one candidate value for a signal.
type patternRule struct {
	pattern *regexp.Regexp
	group   int
}

// signalRules is an ordered list of patterns for one signal. The first
// pattern that matches decides the value.
type signalRules []patternRule

// capture returns the text captured by the first matching rule.
func (rules signalRules) capture(text string) (string, bool) {
	for _, rule := range rules {
		m := rule.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		return m[rule.group], true
	}
	return "", false
}

func (rules signalRules) intValue(text string) *int {
	raw, ok := rules.capture(text)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func (rules signalRules) floatValue(text string) *float64 {
	raw, ok := rules.capture(text)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

var (
	ageRules = signalRules{
		{regexp.MustCompile(`(?i)(\d{2,3})[- ]?year[- ]?old`), 1},
		{regexp.MustCompile(`(?i)Age[:\s]+(\d{1,3})`), 1},
	}

	o2SatRules = signalRules{
		{regexp.MustCompile(`(?i)(?:SpO2|O2|oxygen)(?:\s*sat(?:uration)?)?[:\s]*?(\d{2,3})\b(?:\s*%)?`), 1},
	}

	creatinineRules = signalRules{
		{regexp.MustCompile(`(?i)creatinine[:\s]*([\d.]{1,4})`), 1},
	}

	troponinRules = signalRules{
		{regexp.MustCompile(`(?i)troponin(?:\s*[it])?\s*[:\-\s]*<?\s*([0-9]*\.[0-9]+|[0-9]+)`), 1},
		{regexp.MustCompile(`(?i)([0-9]*\.[0-9]+|[0-9]+)\s*ng/?ml`), 1},
	}

	// slash pair > BP > SBP
	sbpRules = signalRules{
		{regexp.MustCompile(`\b(\d{2,3})\s*/\s*(\d{2,3})\b`), 1},
		{regexp.MustCompile(`(?i)\bBP[:\s]*?(\d{2,3})\b`), 1},
		{regexp.MustCompile(`(?i)\bSBP[:\s]*?(\d{2,3})\b`), 1},
	}

	pneumonia = regexp.MustCompile(`(?i)\b(?:pneumonia|infiltrate|infiltrates|lobar pneumonia)\b`)

	ivAntibiotics = regexp.MustCompile(`(?i)\bIV antibiotics\b|\bintravenous antibiotics\b|\bceftriaxone\b|\bvancomycin\b|\bpiperacillin\b`)

	hemodynamicInstability = regexp.MustCompile(`(?i)\bhypotens(?:ion|ive)|hemodynam(?:ic)? instab|systolic.*<\s*90\b|\bsbp.*<\s*90\b`)
)

// ExtractAge returns the patient age in years, e.g. "82-year-old" or "Age: 82".
func ExtractAge(text string) *int {
	return ageRules.intValue(text)
}

// maxSaturation bounds a plausible saturation percentage.
const maxSaturation = 100

// ExtractO2Sat returns the documented oxygen saturation percentage. A
// reading above 100 is not a saturation and counts as not found.
func ExtractO2Sat(text string) *int {
	v := o2SatRules.intValue(text)
	if v == nil || *v > maxSaturation {
		return nil
	}
	return v
}

// ExtractCreatinine returns the documented creatinine in mg/dL.
func ExtractCreatinine(text string) *float64 {
	return creatinineRules.floatValue(text)
}

// ExtractTroponin returns the documented troponin, falling back to any ng/mL value.
func ExtractTroponin(text string) *float64 {
	return troponinRules.floatValue(text)
}

// ExtractSBP returns the systolic blood pressure.
func ExtractSBP(text string) *int {
	return sbpRules.intValue(text)
}

// DetectPneumonia reports pneumonia or infiltrate language.
func DetectPneumonia(text string) bool {
	return pneumonia.MatchString(text)
}

// DetectIVAntibiotics reports IV antibiotic orders or named IV agents.
func DetectIVAntibiotics(text string) bool {
	return ivAntibiotics.MatchString(text)
}

// DetectHemodynamicInstabilityPhrase reports qualitative instability language
// or an explicit "systolic/SBP < 90" mention.
func DetectHemodynamicInstabilityPhrase(text string) bool {
	return hemodynamicInstability.MatchString(text)
}

// ExtractFeatures runs every extractor over the note. It never fails; signals
// that are absent or unparseable are left nil/false.
func ExtractFeatures(note string) domain.ClinicalFeatures {
	return domain.ClinicalFeatures{
		Age:               ExtractAge(note),
		O2Sat:             ExtractO2Sat(note),
		Creatinine:        ExtractCreatinine(note),
		Troponin:          ExtractTroponin(note),
		SBP:               ExtractSBP(note),
		Pneumonia:         DetectPneumonia(note),
		IVAntibiotics:     DetectIVAntibiotics(note),
		HemodynamicPhrase: DetectHemodynamicInstabilityPhrase(note),
	}
}
