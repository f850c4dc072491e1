// Package ensemble folds per-model outcome probabilities into one prediction
// and decides whether that prediction is strong enough to act on.
package ensemble

import (
	"fmt"
	"math"
	"sort"

	"matchcast/internal/model"
)

// Combiner aggregates base-model probability vectors by weighted arithmetic
// mean. Weights come from holdout accuracy at training time; a degraded model
// simply has no vote and no weight.
type Combiner struct {
	weights map[string]float64
}

// NewCombiner builds a combiner over per-model weights. Weights must be
// finite and non-negative; zero is legal and means the model is ignored.
func NewCombiner(weights map[string]float64) (*Combiner, error) {
	copied := make(map[string]float64, len(weights))
	for name, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("weight for %q is not finite: %v", name, w)
		}
		if w < 0 {
			return nil, fmt.Errorf("weight for %q is negative: %v", name, w)
		}
		copied[name] = w
	}
	return &Combiner{weights: copied}, nil
}

// Weight returns the weight for a model, zero if unknown.
func (c *Combiner) Weight(name string) float64 {
	return c.weights[name]
}

// Weights returns a copy of the weight table.
func (c *Combiner) Weights() map[string]float64 {
	out := make(map[string]float64, len(c.weights))
	for name, w := range c.weights {
		out[name] = w
	}
	return out
}

// Combine aggregates the given votes. The second return value reports the
// untrained-ensemble fallback: every effective weight was zero, so the votes
// were averaged without weighting. Votes are folded in sorted model-name
// order so float summation is reproducible run to run.
func (c *Combiner) Combine(votes map[string]model.ProbabilityVector) (model.ProbabilityVector, bool, error) {
	if len(votes) == 0 {
		return model.ProbabilityVector{}, false, fmt.Errorf("no probability vectors to combine")
	}

	names := make([]string, 0, len(votes))
	for name := range votes {
		names = append(names, name)
	}
	sort.Strings(names)

	totalWeight := 0.0
	for _, name := range names {
		if err := votes[name].Validate(); err != nil {
			return model.ProbabilityVector{}, false, fmt.Errorf("vote from %q: %w", name, err)
		}
		totalWeight += c.weights[name]
	}

	var agg model.ProbabilityVector
	untrained := totalWeight == 0
	if untrained {
		for _, name := range names {
			vote := votes[name]
			for i := range agg {
				agg[i] += vote[i] / float64(len(names))
			}
		}
	} else {
		for _, name := range names {
			w := c.weights[name]
			if w == 0 {
				continue
			}
			vote := votes[name]
			for i := range agg {
				agg[i] += w * vote[i] / totalWeight
			}
		}
	}

	normalized, err := agg.Normalize()
	if err != nil {
		return model.ProbabilityVector{}, false, fmt.Errorf("combined vector: %w", err)
	}
	return normalized, untrained, nil
}

// WeightsFromAccuracy computes the per-model ensemble weights from holdout
// accuracy: accuracy raised to the sharpness exponent, then lifted to the
// floor. Degraded models must not appear in the accuracy table at all.
func WeightsFromAccuracy(accuracyByModel map[string]float64, sharpness, floor float64) (map[string]float64, error) {
	if sharpness <= 0 {
		return nil, fmt.Errorf("sharpness exponent must be positive, got %f", sharpness)
	}
	if floor < 0 || floor > 1 {
		return nil, fmt.Errorf("weight floor must be in [0,1], got %f", floor)
	}

	weights := make(map[string]float64, len(accuracyByModel))
	for name, acc := range accuracyByModel {
		if acc < 0 || acc > 1 || math.IsNaN(acc) {
			return nil, fmt.Errorf("accuracy for %q must be in [0,1], got %v", name, acc)
		}
		w := math.Pow(acc, sharpness)
		if w < floor {
			w = floor
		}
		weights[name] = w
	}
	return weights, nil
}
