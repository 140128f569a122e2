package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		score    int
		expected SupportLevel
	}{
		{0, OBSERVATION_LIKELY},
		{2, OBSERVATION_LIKELY},
		{3, POSSIBLY_SUPPORTED},
		{5, POSSIBLY_SUPPORTED},
		{6, STRONGLY_SUPPORTED},
		{13, STRONGLY_SUPPORTED},
	}

	for _, tt := range tests {
		t.Run(tt.expected.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, LevelForScore(tt.score), "score %d", tt.score)
		})
	}
}

func TestSupportLevelLabels(t *testing.T) {
	assert.Equal(t, "Inpatient – strongly supported", string(STRONGLY_SUPPORTED))
	assert.Equal(t, "Inpatient – possibly supported / consider observation", string(POSSIBLY_SUPPORTED))
	assert.Equal(t, "Observation / outpatient likely", string(OBSERVATION_LIKELY))
}

func TestSupportLevel_Rank(t *testing.T) {
	assert.Less(t, OBSERVATION_LIKELY.Rank(), POSSIBLY_SUPPORTED.Rank())
	assert.Less(t, POSSIBLY_SUPPORTED.Rank(), STRONGLY_SUPPORTED.Rank())
}

func TestParseSupportLevel(t *testing.T) {
	level, err := ParseSupportLevel("Observation / outpatient likely")
	require.NoError(t, err)
	assert.Equal(t, OBSERVATION_LIKELY, level)

	_, err = ParseSupportLevel("Admit")
	assert.ErrorIs(t, err, ErrInvalidSupportLevel)
}

func TestDefaultThresholds(t *testing.T) {
	assert.Equal(t, ThresholdSet{O2Sat: 90, Troponin: 0.04, Creatinine: 1.5, SBP: 90}, DefaultThresholds())
}

func TestNewMissingCriterion(t *testing.T) {
	mc := NewMissingCriterion("Creatinine", "No creatinine documented", "Cr > 1.5")

	assert.Equal(t, "Missing", mc.Status)
	assert.Equal(t, "Creatinine", mc.Criteria)
}
