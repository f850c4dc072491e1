// Package model defines the uniform contract every base predictor honors and
// the registry the engine builds its ensemble from. All variants consume the
// same feature vectors and emit a probability for each of the three match
// outcomes, so the combiner never needs to know which model produced what.
package model

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"matchcast/internal/dataset"
)

// ProbabilitySumTolerance is the allowed drift of a probability vector's sum
// from exactly 1.0.
const ProbabilitySumTolerance = 1e-6

// BundleFormat is the serialization format version embedded in every model
// bundle. Bundles written by a different format fail to load, loudly.
const BundleFormat = 1

// ProbabilityVector holds one probability per outcome class, indexed by
// dataset.Outcome (HomeWin, Draw, AwayWin).
type ProbabilityVector [dataset.NumOutcomes]float64

// Sum returns the total probability mass.
func (p ProbabilityVector) Sum() float64 {
	return p[0] + p[1] + p[2]
}

// ArgMax returns the most probable outcome. Ties resolve to the lowest
// class index, so repeated calls on equal vectors always agree.
func (p ProbabilityVector) ArgMax() dataset.Outcome {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return dataset.Outcome(best)
}

// Validate checks non-negativity and that the mass sums to 1 within
// tolerance.
func (p ProbabilityVector) Validate() error {
	for i, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("probability for %s is not finite: %v", dataset.Outcome(i), v)
		}
		if v < 0 {
			return fmt.Errorf("probability for %s is negative: %v", dataset.Outcome(i), v)
		}
	}
	if diff := math.Abs(p.Sum() - 1.0); diff > ProbabilitySumTolerance {
		return fmt.Errorf("probabilities sum to %v, want 1.0 within %v", p.Sum(), ProbabilitySumTolerance)
	}
	return nil
}

// Normalize rescales the vector to sum to exactly 1.0.
func (p ProbabilityVector) Normalize() (ProbabilityVector, error) {
	sum := p.Sum()
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return ProbabilityVector{}, fmt.Errorf("cannot normalize probability mass %v", sum)
	}
	var out ProbabilityVector
	for i, v := range p {
		out[i] = v / sum
	}
	return out, nil
}

// Model is the uniform base-predictor contract: fit on labeled examples,
// emit outcome probabilities for a feature vector, and round-trip through a
// binary bundle. Implementations must be deterministic for identical
// training data and must refuse to predict before a successful fit.
type Model interface {
	Name() string
	Fit(ctx context.Context, examples []dataset.LabeledExample, schema *dataset.Schema) error
	PredictProba(fv dataset.FeatureVector) (ProbabilityVector, error)
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// Factory builds a fresh, unfit model instance.
type Factory func() Model

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a model variant available by name. Variants register
// themselves from init; a duplicate name is a programming error.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("model: Register called twice for %q", name))
	}
	registry[name] = factory
}

// New builds a fresh instance of a registered variant.
func New(name string) (Model, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model %q (registered: %v)", name, Names())
	}
	return factory(), nil
}

// Names lists the registered variants, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkBundleFormat(model string, got int) error {
	if got != BundleFormat {
		return fmt.Errorf("%s bundle format %d not supported (want %d)", model, got, BundleFormat)
	}
	return nil
}

// oneHot returns the target distribution for a label.
func oneHot(label dataset.Outcome) [dataset.NumOutcomes]float64 {
	var y [dataset.NumOutcomes]float64
	y[label] = 1
	return y
}

// softmax converts raw class scores to a probability distribution, shifting
// by the max score so the exponentials never overflow.
func softmax(scores []float64) []float64 {
	maxScore := scores[0]
	for _, v := range scores[1:] {
		if v > maxScore {
			maxScore = v
		}
	}
	out := make([]float64, len(scores))
	sum := 0.0
	for i, v := range scores {
		e := math.Exp(v - maxScore)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func checkTrainable(examples []dataset.LabeledExample, schema *dataset.Schema) error {
	if schema == nil || schema.Len() == 0 {
		return fmt.Errorf("no feature schema")
	}
	if len(examples) < 2 {
		return fmt.Errorf("need at least 2 training examples, got %d", len(examples))
	}
	if dataset.ClassesPresent(examples) < 2 {
		return fmt.Errorf("training data contains a single outcome class")
	}
	for i := range examples {
		if err := schema.Validate(examples[i].FeatureVector); err != nil {
			return fmt.Errorf("training example %d: %w", i, err)
		}
	}
	return nil
}
