package dataset

import (
	"fmt"
	"math"
	"sort"
)

// SplitChronological orders examples by kickoff time and carves the most
// recent fraction off as the holdout partition. Training data is always
// strictly older than (or concurrent with) the holdout, so models never see
// the future they are scored on.
func SplitChronological(examples []LabeledExample, holdoutFraction float64) (train, holdout []LabeledExample, err error) {
	if holdoutFraction <= 0 || holdoutFraction >= 1 {
		return nil, nil, fmt.Errorf("holdout fraction must be in (0,1), got %f", holdoutFraction)
	}
	if len(examples) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 examples to split, got %d", len(examples))
	}

	ordered := make([]LabeledExample, len(examples))
	copy(ordered, examples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Kickoff.Before(ordered[j].Kickoff)
	})

	holdoutN := int(math.Round(float64(len(ordered)) * holdoutFraction))
	if holdoutN < 1 {
		holdoutN = 1
	}
	if holdoutN > len(ordered)-1 {
		holdoutN = len(ordered) - 1
	}

	cut := len(ordered) - holdoutN
	return ordered[:cut], ordered[cut:], nil
}
