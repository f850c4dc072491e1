package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"matchcast/internal/dataset"
)

// GBDTName identifies the gradient-boosted decision tree variant.
const GBDTName = "gbdt"

const (
	gbdtRounds    = 60
	gbdtMaxDepth  = 3
	gbdtLearnRate = 0.1
	gbdtMinLeaf   = 4
	gbdtMaxStep   = 4.0
)

func init() {
	Register(GBDTName, func() Model { return NewGBDT() })
}

// GBDT boosts shallow regression trees on the softmax gradient, one tree per
// class per round. Splits are exhaustive greedy threshold searches, so a
// given training table always produces the same forest.
type GBDT struct {
	dim    int
	base   [dataset.NumOutcomes]float64
	trees  [dataset.NumOutcomes][]*treeNode
	fitted bool
}

// NewGBDT returns an unfit boosted-trees model.
func NewGBDT() *GBDT {
	return &GBDT{}
}

// Name implements Model.
func (g *GBDT) Name() string { return GBDTName }

type treeNode struct {
	Leaf      bool      `json:"leaf"`
	Value     float64   `json:"value,omitempty"`
	Feature   int       `json:"feature,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Left      *treeNode `json:"left,omitempty"`
	Right     *treeNode `json:"right,omitempty"`
}

func (n *treeNode) eval(values []float64) float64 {
	for !n.Leaf {
		if values[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

func (n *treeNode) validate(dim int) error {
	if n.Leaf {
		if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
			return fmt.Errorf("leaf value %v is not finite", n.Value)
		}
		return nil
	}
	if n.Feature < 0 || n.Feature >= dim {
		return fmt.Errorf("split feature %d out of range [0,%d)", n.Feature, dim)
	}
	if n.Left == nil || n.Right == nil {
		return fmt.Errorf("split node missing children")
	}
	if err := n.Left.validate(dim); err != nil {
		return err
	}
	return n.Right.validate(dim)
}

// Fit implements Model.
func (g *GBDT) Fit(ctx context.Context, examples []dataset.LabeledExample, schema *dataset.Schema) error {
	if err := checkTrainable(examples, schema); err != nil {
		return err
	}

	n := len(examples)
	dim := schema.Len()

	// Start every example at the smoothed log class priors.
	counts := dataset.ClassCounts(examples)
	var base [dataset.NumOutcomes]float64
	for k := range base {
		base[k] = math.Log(float64(counts[k]+1) / float64(n+dataset.NumOutcomes))
	}

	scores := make([][dataset.NumOutcomes]float64, n)
	for i := range scores {
		scores[i] = base
	}

	var trees [dataset.NumOutcomes][]*treeNode
	rowScores := make([]float64, dataset.NumOutcomes)
	residuals := make([]float64, n)
	allIdx := make([]int, n)
	for i := range allIdx {
		allIdx[i] = i
	}

	for round := 0; round < gbdtRounds; round++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("fit canceled at round %d: %w", round, err)
		}

		probs := make([][]float64, n)
		for i := range examples {
			copy(rowScores, scores[i][:])
			probs[i] = softmax(rowScores)
		}

		for k := 0; k < dataset.NumOutcomes; k++ {
			for i, ex := range examples {
				target := 0.0
				if int(ex.Label) == k {
					target = 1.0
				}
				residuals[i] = target - probs[i][k]
			}

			tree := buildTree(examples, allIdx, residuals, 0)
			trees[k] = append(trees[k], tree)
			for i, ex := range examples {
				scores[i][k] += tree.eval(ex.Values)
			}
		}
	}

	g.dim = dim
	g.base = base
	g.trees = trees
	g.fitted = true
	return nil
}

// buildTree grows a regression tree on the residuals by greedy variance
// reduction. Leaf values carry the Friedman multiclass step, pre-scaled by
// the learning rate so evaluation is a plain sum.
func buildTree(examples []dataset.LabeledExample, idx []int, residuals []float64, depth int) *treeNode {
	if depth >= gbdtMaxDepth || len(idx) < 2*gbdtMinLeaf {
		return &treeNode{Leaf: true, Value: leafStep(idx, residuals)}
	}

	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	total, totalSq := sums(idx, residuals)
	parentSSE := totalSq - total*total/float64(len(idx))

	dim := len(examples[idx[0]].Values)
	order := make([]int, len(idx))
	for j := 0; j < dim; j++ {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool {
			va := examples[order[a]].Values[j]
			vb := examples[order[b]].Values[j]
			if va != vb {
				return va < vb
			}
			return order[a] < order[b]
		})

		leftSum, leftSq := 0.0, 0.0
		for pos := 0; pos < len(order)-1; pos++ {
			r := residuals[order[pos]]
			leftSum += r
			leftSq += r * r

			cur := examples[order[pos]].Values[j]
			next := examples[order[pos+1]].Values[j]
			if cur == next {
				continue // cannot split between equal values
			}
			leftN := pos + 1
			rightN := len(order) - leftN
			if leftN < gbdtMinLeaf || rightN < gbdtMinLeaf {
				continue
			}

			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(leftN)) +
				(rightSq - rightSum*rightSum/float64(rightN))
			gain := parentSSE - sse
			if gain > bestGain+1e-12 {
				bestGain = gain
				bestFeature = j
				bestThreshold = (cur + next) / 2
			}
		}
	}

	if bestFeature < 0 {
		return &treeNode{Leaf: true, Value: leafStep(idx, residuals)}
	}

	var left, right []int
	for _, i := range idx {
		if examples[i].Values[bestFeature] <= bestThreshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &treeNode{
		Feature:   bestFeature,
		Threshold: bestThreshold,
		Left:      buildTree(examples, left, residuals, depth+1),
		Right:     buildTree(examples, right, residuals, depth+1),
	}
}

func sums(idx []int, residuals []float64) (sum, sumSq float64) {
	for _, i := range idx {
		r := residuals[i]
		sum += r
		sumSq += r * r
	}
	return sum, sumSq
}

// leafStep is Friedman's multiclass leaf estimate, clamped so a pure leaf
// cannot launch the raw scores to infinity.
func leafStep(idx []int, residuals []float64) float64 {
	num, den := 0.0, 0.0
	for _, i := range idx {
		r := residuals[i]
		num += r
		den += math.Abs(r) * (1 - math.Abs(r))
	}
	if den < 1e-10 {
		return 0
	}
	k := float64(dataset.NumOutcomes)
	step := (k - 1) / k * num / den
	if step > gbdtMaxStep {
		step = gbdtMaxStep
	} else if step < -gbdtMaxStep {
		step = -gbdtMaxStep
	}
	return gbdtLearnRate * step
}

// PredictProba implements Model.
func (g *GBDT) PredictProba(fv dataset.FeatureVector) (ProbabilityVector, error) {
	if !g.fitted {
		return ProbabilityVector{}, fmt.Errorf("gbdt model is not fitted")
	}
	if len(fv.Values) != g.dim {
		return ProbabilityVector{}, fmt.Errorf("expected %d features, got %d", g.dim, len(fv.Values))
	}
	for j, v := range fv.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ProbabilityVector{}, fmt.Errorf("non-finite feature value at %d", j)
		}
	}

	scores := make([]float64, dataset.NumOutcomes)
	for k := 0; k < dataset.NumOutcomes; k++ {
		score := g.base[k]
		for _, tree := range g.trees[k] {
			score += tree.eval(fv.Values)
		}
		scores[k] = score
	}

	var out ProbabilityVector
	copy(out[:], softmax(scores))
	return out, nil
}

type gbdtBundle struct {
	Format int                                    `json:"format"`
	Dim    int                                    `json:"dim"`
	Base   [dataset.NumOutcomes]float64           `json:"base"`
	Trees  [dataset.NumOutcomes][]json.RawMessage `json:"trees"`
}

// MarshalBinary implements Model.
func (g *GBDT) MarshalBinary() ([]byte, error) {
	if !g.fitted {
		return nil, fmt.Errorf("cannot serialize unfit gbdt model")
	}
	var b gbdtBundle
	b.Format = BundleFormat
	b.Dim = g.dim
	b.Base = g.base
	for k := range g.trees {
		for _, tree := range g.trees[k] {
			raw, err := json.Marshal(tree)
			if err != nil {
				return nil, fmt.Errorf("failed to encode tree: %w", err)
			}
			b.Trees[k] = append(b.Trees[k], raw)
		}
	}
	return json.Marshal(b)
}

// UnmarshalBinary implements Model.
func (g *GBDT) UnmarshalBinary(data []byte) error {
	var b gbdtBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("failed to decode gbdt bundle: %w", err)
	}
	if err := checkBundleFormat(GBDTName, b.Format); err != nil {
		return err
	}
	if b.Dim <= 0 {
		return fmt.Errorf("gbdt bundle has invalid dimension %d", b.Dim)
	}

	var trees [dataset.NumOutcomes][]*treeNode
	for k := range b.Trees {
		for t, raw := range b.Trees[k] {
			var node treeNode
			if err := json.Unmarshal(raw, &node); err != nil {
				return fmt.Errorf("failed to decode tree %d for class %d: %w", t, k, err)
			}
			if err := node.validate(b.Dim); err != nil {
				return fmt.Errorf("tree %d for class %d: %w", t, k, err)
			}
			trees[k] = append(trees[k], &node)
		}
	}

	g.dim = b.Dim
	g.base = b.Base
	g.trees = trees
	g.fitted = true
	return nil
}
