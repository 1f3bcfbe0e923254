// Package pipeline drives a replacement job through its stages, from video
// intake to the muxed output, with an explicit state machine, bounded
// synthesis fan-out, and durable job records.
package pipeline

import (
	"errors"
	"fmt"
)

// Stage is a job's position in the pipeline.
type Stage string

const (
	StageCreated         Stage = "created"
	StageExtracting      Stage = "extracting"
	StageDiarizing       Stage = "diarizing"
	StageAwaitingMapping Stage = "awaiting_mapping"
	StageSynthesizing    Stage = "synthesizing"
	StageStitching       Stage = "stitching"
	StageMuxing          Stage = "muxing"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
	StageCancelled       Stage = "cancelled"
)

// ErrInvalidTransition is returned when a stage change is not in the table.
var ErrInvalidTransition = errors.New("pipeline: invalid stage transition")

// transitions is the forward edge set. Failed and Cancelled are reachable
// from every non-terminal stage and are handled in CanTransitionTo rather
// than listed per stage. There is no edge back into Diarizing: once a job
// reaches AwaitingMapping its segment IDs are published and must stay stable.
var transitions = map[Stage][]Stage{
	StageCreated:         {StageExtracting},
	StageExtracting:      {StageDiarizing},
	StageDiarizing:       {StageAwaitingMapping},
	StageAwaitingMapping: {StageSynthesizing},
	StageSynthesizing:    {StageStitching},
	StageStitching:       {StageMuxing},
	StageMuxing:          {StageCompleted},
}

// Terminal reports whether no further transitions exist from s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// CanTransitionTo reports whether s -> next is a legal stage change.
func (s Stage) CanTransitionTo(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed || next == StageCancelled {
		return true
	}
	for _, allowed := range transitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// checkTransition wraps ErrInvalidTransition with both stages for logs.
func checkTransition(from, to Stage) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
