// Package eval replays a labeled match table through the prediction engine
// the way it would have been used live. The engine trains on an initial
// window, predicts each later match before seeing its result, refits on a
// fixed schedule, and settles every prediction against the actual outcome.
package eval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"matchcast/internal/dataset"
	"matchcast/internal/engine"
	"matchcast/internal/model"
)

// Options controls the walk-forward schedule.
type Options struct {
	// InitialFraction is the share of the table used for the first fit.
	InitialFraction float64
	// RefitEvery retrains after this many settled matches. Zero disables
	// refitting, so the initial fit serves the whole test tail.
	RefitEvery int
}

// DefaultOptions returns the schedule used by the evaluate command.
func DefaultOptions() Options {
	return Options{
		InitialFraction: 0.6,
		RefitEvery:      50,
	}
}

// Settled is one test match with its prediction and the real result.
type Settled struct {
	MatchID       string                  `json:"match_id"`
	Kickoff       time.Time               `json:"kickoff"`
	Actual        dataset.Outcome         `json:"actual"`
	Predicted     dataset.Outcome         `json:"predicted"`
	Probabilities model.ProbabilityVector `json:"probabilities"`
	Confidence    float64                 `json:"confidence"`
	Actionable    bool                    `json:"actionable"`
	Correct       bool                    `json:"correct"`
	ModelVersion  string                  `json:"model_version"`
}

// Results aggregates a finished walk-forward run.
type Results struct {
	Settled []Settled `json:"-"`

	Matches            int        `json:"matches"`
	Correct            int        `json:"correct"`
	Accuracy           float64    `json:"accuracy"`
	ClassAccuracy      [3]float64 `json:"class_accuracy"`
	ClassCounts        [3]int     `json:"class_counts"`
	ActionableCount    int        `json:"actionable_count"`
	ActionableRate     float64    `json:"actionable_rate"`
	ActionableAccuracy float64    `json:"actionable_accuracy"`
	GateLift           float64    `json:"gate_lift"`
	Brier              float64    `json:"brier"`
	LogLoss            float64    `json:"log_loss"`

	// Confusion counts settled matches by [actual][predicted] class index.
	Confusion [3][3]int `json:"confusion"`

	// HoldoutHistory records each model's holdout accuracy per fit, the
	// initial fit first and one entry per refit after it.
	HoldoutHistory map[string][]float64 `json:"holdout_history"`

	TrainingMatches int       `json:"training_matches"`
	Refits          int       `json:"refits"`
	FirstKickoff    time.Time `json:"first_kickoff"`
	LastKickoff     time.Time `json:"last_kickoff"`
	Elapsed         float64   `json:"elapsed_seconds"`
}

// Engine drives one walk-forward evaluation over a single table.
type Engine struct {
	eng  *engine.Engine
	opts Options
}

// NewEngine wraps a prediction engine for evaluation. The engine is
// retrained in place, so callers should hand in a dedicated instance
// rather than one serving live traffic.
func NewEngine(eng *engine.Engine, opts Options) (*Engine, error) {
	if eng == nil {
		return nil, fmt.Errorf("eval: engine is nil")
	}
	if opts.InitialFraction <= 0 || opts.InitialFraction >= 1 {
		return nil, fmt.Errorf("eval: initial fraction %.2f must be in (0, 1)", opts.InitialFraction)
	}
	if opts.RefitEvery < 0 {
		return nil, fmt.Errorf("eval: refit interval %d must not be negative", opts.RefitEvery)
	}
	return &Engine{eng: eng, opts: opts}, nil
}

// Run walks the table chronologically, training on the initial window and
// settling a prediction for every later match. Matches inside a refit
// window are always predicted by a fit that saw none of them.
func (e *Engine) Run(ctx context.Context, table *dataset.Table) (*Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}

	ordered := make([]dataset.LabeledExample, len(table.Examples))
	copy(ordered, table.Examples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kickoff.Before(ordered[j].Kickoff)
	})

	initial := int(float64(len(ordered)) * e.opts.InitialFraction)
	if initial < 1 || initial >= len(ordered) {
		return nil, fmt.Errorf("eval: initial window of %d matches leaves no test tail (table has %d)", initial, len(ordered))
	}

	start := time.Now()
	results := &Results{
		TrainingMatches: initial,
		HoldoutHistory:  make(map[string][]float64),
		FirstKickoff:    ordered[initial].Kickoff,
		LastKickoff:     ordered[len(ordered)-1].Kickoff,
	}

	log.Info().
		Int("matches", len(ordered)).
		Int("training", initial).
		Int("test", len(ordered)-initial).
		Int("refitEvery", e.opts.RefitEvery).
		Msg("walk-forward evaluation started")

	if err := e.fit(ctx, table.Schema, ordered[:initial], results); err != nil {
		return nil, err
	}

	for i := initial; i < len(ordered); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.opts.RefitEvery > 0 && i > initial && (i-initial)%e.opts.RefitEvery == 0 {
			if err := e.fit(ctx, table.Schema, ordered[:i], results); err != nil {
				return nil, err
			}
			results.Refits++
		}

		pred, err := e.eng.Predict(ctx, ordered[i].FeatureVector)
		if err != nil {
			return nil, fmt.Errorf("eval: match %s: %w", ordered[i].MatchID, err)
		}
		results.settle(ordered[i], pred)
	}

	results.finalize(time.Since(start))

	log.Info().
		Int("settled", results.Matches).
		Int("refits", results.Refits).
		Float64("accuracy", results.Accuracy).
		Msg("walk-forward evaluation finished")

	return results, nil
}

func (e *Engine) fit(ctx context.Context, schema *dataset.Schema, window []dataset.LabeledExample, results *Results) error {
	sub := &dataset.Table{Schema: schema, Examples: window}
	run, err := e.eng.Train(ctx, sub)
	if err != nil {
		return fmt.Errorf("eval: fit on %d matches: %w", len(window), err)
	}
	for _, report := range run.Models {
		if report.Error != "" {
			continue
		}
		results.HoldoutHistory[report.Name] = append(results.HoldoutHistory[report.Name], report.HoldoutAccuracy)
	}
	return nil
}

func (r *Results) settle(example dataset.LabeledExample, pred *engine.PredictionRecord) {
	actual := int(example.Label)
	predicted := int(pred.Outcome)

	correct := actual == predicted
	r.Confusion[actual][predicted]++
	r.ClassCounts[actual]++
	r.Matches++
	if correct {
		r.Correct++
	}
	if pred.Actionable {
		r.ActionableCount++
		if correct {
			r.ActionableAccuracy++
		}
	}

	var brier float64
	for c := 0; c < dataset.NumOutcomes; c++ {
		y := 0.0
		if c == actual {
			y = 1.0
		}
		d := pred.Probabilities[c] - y
		brier += d * d
	}
	r.Brier += brier

	p := pred.Probabilities[actual]
	if p < 1e-15 {
		p = 1e-15
	}
	r.LogLoss -= math.Log(p)

	r.Settled = append(r.Settled, Settled{
		MatchID:       example.MatchID,
		Kickoff:       example.Kickoff,
		Actual:        example.Label,
		Predicted:     pred.Outcome,
		Probabilities: pred.Probabilities,
		Confidence:    pred.Confidence,
		Actionable:    pred.Actionable,
		Correct:       correct,
		ModelVersion:  pred.ModelVersion,
	})
}

func (r *Results) finalize(elapsed time.Duration) {
	r.Elapsed = elapsed.Seconds()
	if r.Matches == 0 {
		return
	}
	r.Accuracy = float64(r.Correct) / float64(r.Matches)
	r.ActionableRate = float64(r.ActionableCount) / float64(r.Matches)
	r.Brier /= float64(r.Matches)
	r.LogLoss /= float64(r.Matches)
	for c := 0; c < dataset.NumOutcomes; c++ {
		if r.ClassCounts[c] > 0 {
			r.ClassAccuracy[c] = float64(r.Confusion[c][c]) / float64(r.ClassCounts[c])
		}
	}
	if r.ActionableCount > 0 {
		r.ActionableAccuracy /= float64(r.ActionableCount)
		r.GateLift = r.ActionableAccuracy - r.Accuracy
	}
}
