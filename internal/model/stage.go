package model

import "github.com/rotisserie/eris"

// Stage represents where an analysis job sits in the pipeline. Stages are
// strictly ordered and a job only ever moves forward.
type Stage string

const (
	StageFetching             Stage = "fetching"
	StageClaimExtraction      Stage = "claim_extraction"
	StageNewsCrossCheck       Stage = "news_crosscheck"
	StageExternalVerification Stage = "external_verification"
	StageSourceValidation     Stage = "source_validation"
	StagePersisted            Stage = "persisted"
)

// stageOrder defines the forward progression of the pipeline.
var stageOrder = []Stage{
	StageFetching,
	StageClaimExtraction,
	StageNewsCrossCheck,
	StageExternalVerification,
	StageSourceValidation,
	StagePersisted,
}

// ParseStage validates a string read from storage or an API payload.
func ParseStage(s string) (Stage, error) {
	for _, st := range stageOrder {
		if string(st) == s {
			return st, nil
		}
	}
	return "", eris.Errorf("unknown stage %q", s)
}

// Ordinal returns the position of the stage in the pipeline, or -1 for an
// unknown value. Useful for monotonicity checks.
func (s Stage) Ordinal() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s. ok is false when s is terminal or
// unknown.
func (s Stage) Next() (next Stage, ok bool) {
	i := s.Ordinal()
	if i < 0 || i >= len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[i+1], true
}

// Terminal reports whether the job has nothing left to do.
func (s Stage) Terminal() bool {
	return s == StagePersisted
}

// Before reports whether s precedes other in pipeline order.
func (s Stage) Before(other Stage) bool {
	return s.Ordinal() < other.Ordinal()
}

// Stages returns the full pipeline order, first to last.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}
