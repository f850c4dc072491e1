package engine

import (
	"fmt"
	"strings"
)

// DataInsufficientError aborts a training run before any model is touched:
// the table is too small, malformed, or missing an outcome class entirely.
// It is never retried internally; the caller decides what to do.
type DataInsufficientError struct {
	Need   int
	Got    int
	Reason string
}

func (e *DataInsufficientError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("insufficient training data: %s", e.Reason)
	}
	return fmt.Sprintf("insufficient training data: need at least %d examples, got %d", e.Need, e.Got)
}

// TrainingError records one base model's failure during fit or holdout
// scoring. It never fails the run by itself: the model is marked degraded
// and the run continues with the survivors.
type TrainingError struct {
	Model string
	Stage string
	Err   error
}

func (e *TrainingError) Error() string {
	return fmt.Sprintf("model %s failed during %s: %v", e.Model, e.Stage, e.Err)
}

func (e *TrainingError) Unwrap() error { return e.Err }

// AllModelsFailedError is fatal for the run: every enabled model degraded,
// so nothing is persisted and the previous trained state stays authoritative.
type AllModelsFailedError struct {
	Failures []*TrainingError
}

func (e *AllModelsFailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("all %d models failed to train: %s", len(e.Failures), strings.Join(parts, "; "))
}

// InferenceError fails a single prediction: schema mismatch, an unfit
// engine, or a base model erroring mid-ensemble. It is always surfaced to
// the caller; the engine never papers over it with a default guess.
type InferenceError struct {
	MatchID string
	Model   string
	Err     error
}

func (e *InferenceError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("inference failed for match %s (model %s): %v", e.MatchID, e.Model, e.Err)
	}
	return fmt.Sprintf("inference failed for match %s: %v", e.MatchID, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
