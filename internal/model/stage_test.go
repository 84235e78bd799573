package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageOrdering(t *testing.T) {
	stages := Stages()
	require.Len(t, stages, 6)
	assert.Equal(t, StageFetching, stages[0])
	assert.Equal(t, StagePersisted, stages[5])

	for i := 0; i < len(stages)-1; i++ {
		assert.True(t, stages[i].Before(stages[i+1]), "%s should precede %s", stages[i], stages[i+1])
	}
}

func TestStageNext(t *testing.T) {
	next, ok := StageFetching.Next()
	require.True(t, ok)
	assert.Equal(t, StageClaimExtraction, next)

	next, ok = StageSourceValidation.Next()
	require.True(t, ok)
	assert.Equal(t, StagePersisted, next)

	_, ok = StagePersisted.Next()
	assert.False(t, ok, "terminal stage has no successor")

	_, ok = Stage("bogus").Next()
	assert.False(t, ok)
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StagePersisted.Terminal())
	for _, s := range Stages()[:5] {
		assert.False(t, s.Terminal(), "%s is not terminal", s)
	}
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage("news_crosscheck")
	require.NoError(t, err)
	assert.Equal(t, StageNewsCrossCheck, s)

	_, err = ParseStage("stage3")
	assert.Error(t, err)
}

func TestClaimFinalScore(t *testing.T) {
	assert.Equal(t, 3, Claim{RiskScore: 2, Adjustment: 1}.FinalScore())
	assert.Equal(t, 4, Claim{RiskScore: 4, Adjustment: 2}.FinalScore(), "clamped high")
	assert.Equal(t, 0, Claim{RiskScore: 1, Adjustment: -3}.FinalScore(), "clamped low")
}

func TestJobKeyString(t *testing.T) {
	job := AnalysisJob{
		Company: Company{Code: "1101", Name: "Taiwan Cement"},
		Period:  "2024",
	}
	assert.Equal(t, "2024-1101", job.Key().String())
}
