package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"matchcast/internal/dataset"
)

// LogisticName identifies the multinomial logistic regression variant.
const LogisticName = "logit"

const (
	logisticIters = 400
	logisticLR    = 0.15
)

func init() {
	Register(LogisticName, func() Model { return NewLogistic() })
}

// Logistic is a softmax regression over standardized features, trained by
// full-batch gradient descent on the cross-entropy loss. Zero-initialized
// weights and a fixed iteration count keep training deterministic.
type Logistic struct {
	dim     int
	means   []float64
	stds    []float64
	weights *mat.Dense // NumOutcomes x (dim+1), bias in column 0
	fitted  bool
}

// NewLogistic returns an unfit logistic regression model.
func NewLogistic() *Logistic {
	return &Logistic{}
}

// Name implements Model.
func (l *Logistic) Name() string { return LogisticName }

// Fit implements Model.
func (l *Logistic) Fit(ctx context.Context, examples []dataset.LabeledExample, schema *dataset.Schema) error {
	if err := checkTrainable(examples, schema); err != nil {
		return err
	}

	n := len(examples)
	dim := schema.Len()

	// Per-feature standardization keeps one learning rate workable across
	// features of very different scales (strength ratios vs. rest days).
	means := make([]float64, dim)
	stds := make([]float64, dim)
	column := make([]float64, n)
	for j := 0; j < dim; j++ {
		for i, ex := range examples {
			column[i] = ex.Values[j]
		}
		means[j] = stat.Mean(column, nil)
		stds[j] = stat.StdDev(column, nil)
		if stds[j] == 0 || math.IsNaN(stds[j]) {
			stds[j] = 1
		}
	}

	x := mat.NewDense(n, dim+1, nil)
	y := mat.NewDense(n, dataset.NumOutcomes, nil)
	for i, ex := range examples {
		x.Set(i, 0, 1) // bias
		for j, v := range ex.Values {
			x.Set(i, j+1, (v-means[j])/stds[j])
		}
		target := oneHot(ex.Label)
		for k, v := range target {
			y.Set(i, k, v)
		}
	}

	weights := mat.NewDense(dataset.NumOutcomes, dim+1, nil)
	var logits, diff, grad mat.Dense
	scores := make([]float64, dataset.NumOutcomes)
	for iter := 0; iter < logisticIters; iter++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("fit canceled at iteration %d: %w", iter, err)
		}

		logits.Mul(x, weights.T())
		diff.CloneFrom(&logits)
		for i := 0; i < n; i++ {
			copy(scores, logits.RawRowView(i))
			probs := softmax(scores)
			for k := 0; k < dataset.NumOutcomes; k++ {
				diff.Set(i, k, probs[k]-y.At(i, k))
			}
		}

		grad.Mul(diff.T(), x)
		grad.Scale(logisticLR/float64(n), &grad)
		weights.Sub(weights, &grad)
	}

	l.dim = dim
	l.means = means
	l.stds = stds
	l.weights = weights
	l.fitted = true
	return nil
}

// PredictProba implements Model.
func (l *Logistic) PredictProba(fv dataset.FeatureVector) (ProbabilityVector, error) {
	if !l.fitted {
		return ProbabilityVector{}, fmt.Errorf("logistic model is not fitted")
	}
	if len(fv.Values) != l.dim {
		return ProbabilityVector{}, fmt.Errorf("expected %d features, got %d", l.dim, len(fv.Values))
	}

	scores := make([]float64, dataset.NumOutcomes)
	for k := 0; k < dataset.NumOutcomes; k++ {
		score := l.weights.At(k, 0)
		for j, v := range fv.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return ProbabilityVector{}, fmt.Errorf("non-finite feature value at %d", j)
			}
			score += l.weights.At(k, j+1) * (v - l.means[j]) / l.stds[j]
		}
		scores[k] = score
	}

	var out ProbabilityVector
	copy(out[:], softmax(scores))
	return out, nil
}

type logisticBundle struct {
	Format  int         `json:"format"`
	Dim     int         `json:"dim"`
	Means   []float64   `json:"means"`
	Stds    []float64   `json:"stds"`
	Weights [][]float64 `json:"weights"`
}

// MarshalBinary implements Model.
func (l *Logistic) MarshalBinary() ([]byte, error) {
	if !l.fitted {
		return nil, fmt.Errorf("cannot serialize unfit logistic model")
	}
	weights := make([][]float64, dataset.NumOutcomes)
	for k := range weights {
		row := make([]float64, l.dim+1)
		copy(row, l.weights.RawRowView(k))
		weights[k] = row
	}
	return json.Marshal(logisticBundle{
		Format:  BundleFormat,
		Dim:     l.dim,
		Means:   l.means,
		Stds:    l.stds,
		Weights: weights,
	})
}

// UnmarshalBinary implements Model.
func (l *Logistic) UnmarshalBinary(data []byte) error {
	var b logisticBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("failed to decode logistic bundle: %w", err)
	}
	if err := checkBundleFormat(LogisticName, b.Format); err != nil {
		return err
	}
	if b.Dim <= 0 || len(b.Means) != b.Dim || len(b.Stds) != b.Dim || len(b.Weights) != dataset.NumOutcomes {
		return fmt.Errorf("logistic bundle is internally inconsistent")
	}

	weights := mat.NewDense(dataset.NumOutcomes, b.Dim+1, nil)
	for k, row := range b.Weights {
		if len(row) != b.Dim+1 {
			return fmt.Errorf("logistic bundle weight row %d has %d values, want %d", k, len(row), b.Dim+1)
		}
		weights.SetRow(k, row)
	}

	l.dim = b.Dim
	l.means = b.Means
	l.stds = b.Stds
	l.weights = weights
	l.fitted = true
	return nil
}
