package ensemble

import (
	"fmt"
	"math"

	"matchcast/internal/model"
)

// Gate turns an aggregated probability vector into a scalar confidence and
// an actionable decision. Confidence is the margin between the top two
// classes rather than the raw top probability: 0.40/0.38/0.22 is a near-tie
// and should score low even though its leader clears 0.40.
type Gate struct {
	threshold float64
}

// NewGate builds a gate with the given margin threshold.
func NewGate(threshold float64) (*Gate, error) {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("confidence threshold must be in [0,1], got %f", threshold)
	}
	return &Gate{threshold: threshold}, nil
}

// Threshold returns the configured margin threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// Evaluate returns the top-two margin and whether it clears the threshold.
// A margin exactly at the threshold is actionable. The vector itself is
// never altered.
func (g *Gate) Evaluate(probs model.ProbabilityVector) (confidence float64, actionable bool) {
	top := probs[probs.ArgMax()]
	second := math.Inf(-1)
	topSeen := false
	for _, p := range probs {
		if p == top && !topSeen {
			topSeen = true
			continue
		}
		if p > second {
			second = p
		}
	}

	confidence = top - second
	return confidence, confidence >= g.threshold
}
