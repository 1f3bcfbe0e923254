package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageHappyPath(t *testing.T) {
	order := []Stage{
		StageCreated, StageExtracting, StageDiarizing, StageAwaitingMapping,
		StageSynthesizing, StageStitching, StageMuxing, StageCompleted,
	}
	for i := 0; i < len(order)-1; i++ {
		assert.True(t, order[i].CanTransitionTo(order[i+1]),
			"%s -> %s should be legal", order[i], order[i+1])
	}
}

func TestStageNoSkippingForward(t *testing.T) {
	assert.False(t, StageCreated.CanTransitionTo(StageDiarizing))
	assert.False(t, StageExtracting.CanTransitionTo(StageSynthesizing))
	assert.False(t, StageAwaitingMapping.CanTransitionTo(StageStitching))
}

func TestStageNoReDiarizationAfterMappingPublished(t *testing.T) {
	assert.False(t, StageAwaitingMapping.CanTransitionTo(StageDiarizing))
	assert.False(t, StageSynthesizing.CanTransitionTo(StageDiarizing))
}

func TestStageFailedAndCancelledFromAnyNonTerminal(t *testing.T) {
	for _, s := range []Stage{
		StageCreated, StageExtracting, StageDiarizing, StageAwaitingMapping,
		StageSynthesizing, StageStitching, StageMuxing,
	} {
		assert.True(t, s.CanTransitionTo(StageFailed), "%s -> failed", s)
		assert.True(t, s.CanTransitionTo(StageCancelled), "%s -> cancelled", s)
	}
}

func TestStageTerminalIsFinal(t *testing.T) {
	for _, s := range []Stage{StageCompleted, StageFailed, StageCancelled} {
		assert.True(t, s.Terminal())
		assert.False(t, s.CanTransitionTo(StageExtracting))
		assert.False(t, s.CanTransitionTo(StageFailed))
	}
}

func TestCheckTransitionWrapsSentinel(t *testing.T) {
	err := checkTransition(StageCompleted, StageExtracting)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "completed")
}
