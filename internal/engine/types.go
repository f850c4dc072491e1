package engine

import (
	"fmt"
	"time"

	"matchcast/internal/dataset"
	"matchcast/internal/model"
)

// Config holds every knob the engine recognizes. Values are explicit; the
// engine reads no globals and no environment.
type Config struct {
	// ConfidenceThreshold gates on the top-two probability margin, not the
	// raw top probability. The default is deliberately strict: a 3-way
	// margin of 0.65 needs a very lopsided ensemble.
	ConfidenceThreshold float64  `json:"confidence_threshold" yaml:"confidence_threshold"`
	SharpnessExponent   float64  `json:"sharpness_exponent" yaml:"sharpness_exponent"`
	WeightFloor         float64  `json:"weight_floor" yaml:"weight_floor"`
	HoldoutFraction     float64  `json:"holdout_fraction" yaml:"holdout_fraction"`
	MinTrainingExamples int      `json:"min_training_examples" yaml:"min_training_examples"`
	Models              []string `json:"models" yaml:"models"`
}

// DefaultConfig returns the stock engine configuration with all three
// registered model variants enabled.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.65,
		SharpnessExponent:   1.0,
		WeightFloor:         0.01,
		HoldoutFraction:     0.2,
		MinTrainingExamples: 50,
		Models:              model.Names(),
	}
}

// Validate checks ranges and that every enabled model variant is registered.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1, got %f", c.ConfidenceThreshold)
	}
	if c.SharpnessExponent <= 0 {
		return fmt.Errorf("sharpness exponent must be positive, got %f", c.SharpnessExponent)
	}
	if c.WeightFloor < 0 || c.WeightFloor > 1 {
		return fmt.Errorf("weight floor must be between 0 and 1, got %f", c.WeightFloor)
	}
	if c.HoldoutFraction <= 0 || c.HoldoutFraction >= 1 {
		return fmt.Errorf("holdout fraction must be between 0 and 1 exclusive, got %f", c.HoldoutFraction)
	}
	if c.MinTrainingExamples < 2 {
		return fmt.Errorf("minimum training examples must be at least 2, got %d", c.MinTrainingExamples)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model variant must be enabled")
	}
	seen := make(map[string]bool, len(c.Models))
	registered := make(map[string]bool)
	for _, name := range model.Names() {
		registered[name] = true
	}
	for _, name := range c.Models {
		if seen[name] {
			return fmt.Errorf("model %q enabled twice", name)
		}
		seen[name] = true
		if !registered[name] {
			return fmt.Errorf("unknown model %q (registered: %v)", name, model.Names())
		}
	}
	return nil
}

// ModelReport is the per-model outcome of one training run: either holdout
// metrics and an ensemble weight, or a degraded marker with the error text.
type ModelReport struct {
	Name            string                       `json:"name"`
	Degraded        bool                         `json:"degraded"`
	Error           string                       `json:"error,omitempty"`
	HoldoutAccuracy float64                      `json:"holdout_accuracy"`
	ClassAccuracy   [dataset.NumOutcomes]float64 `json:"class_accuracy"`
	Weight          float64                      `json:"weight"`
	FitSeconds      float64                      `json:"fit_seconds"`
}

// TrainingRun is the immutable record of one train() invocation. Prior runs
// are retained in the store as an audit trail.
type TrainingRun struct {
	ID           string             `json:"id"`
	Version      string             `json:"version"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  time.Time          `json:"completed_at"`
	Examples     int                `json:"examples"`
	TrainCount   int                `json:"train_count"`
	HoldoutCount int                `json:"holdout_count"`
	Models       []ModelReport      `json:"models"`
	Weights      map[string]float64 `json:"weights"`
	Config       Config             `json:"config"`
	Schema       *dataset.Schema    `json:"schema"`
}

// Report returns the per-model report by name, nil if absent.
func (r *TrainingRun) Report(name string) *ModelReport {
	for i := range r.Models {
		if r.Models[i].Name == name {
			return &r.Models[i]
		}
	}
	return nil
}

// DegradedModels lists the models that failed this run.
func (r *TrainingRun) DegradedModels() []string {
	var out []string
	for _, m := range r.Models {
		if m.Degraded {
			out = append(out, m.Name)
		}
	}
	return out
}

// PredictionRecord is the engine's answer for one match. It always carries a
// definite confidence and gate decision, even in the untrained-ensemble
// fallback.
type PredictionRecord struct {
	ID            string                  `json:"id"`
	MatchID       string                  `json:"match_id"`
	ModelVersion  string                  `json:"model_version"`
	Probabilities model.ProbabilityVector `json:"probabilities"`
	Outcome       dataset.Outcome         `json:"outcome"`
	Confidence    float64                 `json:"confidence"`
	Actionable    bool                    `json:"actionable"`
	Untrained     bool                    `json:"untrained,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

// BatchItem pairs one batch input with either its record or its error,
// preserving input order. A failing item never aborts its neighbors.
type BatchItem struct {
	Index  int
	Record *PredictionRecord
	Err    error
}
