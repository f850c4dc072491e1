// Package dataset defines the feature table handed to the prediction engine:
// labeled, time-stamped feature vectors with a fixed column schema.
package dataset

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Outcome is the full-time result class of a match.
type Outcome int

const (
	HomeWin Outcome = iota
	Draw
	AwayWin
)

// NumOutcomes is the number of result classes.
const NumOutcomes = 3

// String returns the single-letter result code used in historical data feeds.
func (o Outcome) String() string {
	switch o {
	case HomeWin:
		return "H"
	case Draw:
		return "D"
	case AwayWin:
		return "A"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Valid reports whether o is one of the three result classes.
func (o Outcome) Valid() bool {
	return o >= HomeWin && o <= AwayWin
}

// ParseOutcome parses a single-letter result code.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "H":
		return HomeWin, nil
	case "D":
		return Draw, nil
	case "A":
		return AwayWin, nil
	default:
		return 0, fmt.Errorf("unknown outcome code %q", s)
	}
}

// OutcomeFromGoals derives the result class from a full-time score.
func OutcomeFromGoals(homeGoals, awayGoals int) Outcome {
	switch {
	case homeGoals > awayGoals:
		return HomeWin
	case homeGoals < awayGoals:
		return AwayWin
	default:
		return Draw
	}
}

// FeatureVector is one match's numeric features, ordered per the table schema.
type FeatureVector struct {
	MatchID string    `json:"match_id"`
	Kickoff time.Time `json:"kickoff"`
	Values  []float64 `json:"values"`
}

// LabeledExample is a feature vector with its known full-time outcome.
type LabeledExample struct {
	FeatureVector
	Label Outcome `json:"label"`
}

// Schema is the ordered list of feature names every vector must align to.
type Schema struct {
	names []string
	index map[string]int
}

// NewSchema builds a schema from ordered feature names.
func NewSchema(names []string) (*Schema, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("schema requires at least one feature name")
	}
	index := make(map[string]int, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("schema feature %d has empty name", i)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("schema feature %q appears twice", name)
		}
		index[name] = i
	}
	return &Schema{names: names, index: index}, nil
}

// Names returns a copy of the ordered feature names.
func (s *Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of features.
func (s *Schema) Len() int {
	return len(s.names)
}

// Index returns the column position of a named feature.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Equal reports whether both schemas carry the same names in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if other == nil || len(s.names) != len(other.names) {
		return false
	}
	for i, name := range s.names {
		if other.names[i] != name {
			return false
		}
	}
	return true
}

// Validate checks a vector against the schema: arity and finite values.
func (s *Schema) Validate(fv FeatureVector) error {
	if len(fv.Values) != len(s.names) {
		return fmt.Errorf("feature count mismatch: schema has %d, vector %q has %d",
			len(s.names), fv.MatchID, len(fv.Values))
	}
	for i, v := range fv.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value %v for feature %q in vector %q", v, s.names[i], fv.MatchID)
		}
	}
	return nil
}

// MarshalJSON encodes the schema as its ordered name list.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.names)
}

// UnmarshalJSON decodes an ordered name list into the schema.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	rebuilt, err := NewSchema(names)
	if err != nil {
		return err
	}
	*s = *rebuilt
	return nil
}

// Table is a schema plus the labeled examples aligned to it.
type Table struct {
	Schema   *Schema
	Examples []LabeledExample
}

// Len returns the number of examples.
func (t *Table) Len() int {
	return len(t.Examples)
}

// Validate checks every row against the schema and every label for validity.
func (t *Table) Validate() error {
	if t.Schema == nil {
		return fmt.Errorf("table has no schema")
	}
	for i, ex := range t.Examples {
		if err := t.Schema.Validate(ex.FeatureVector); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if !ex.Label.Valid() {
			return fmt.Errorf("row %d: invalid label %d", i, int(ex.Label))
		}
	}
	return nil
}

// ClassCounts tallies examples per result class.
func ClassCounts(examples []LabeledExample) [NumOutcomes]int {
	var counts [NumOutcomes]int
	for _, ex := range examples {
		if ex.Label.Valid() {
			counts[ex.Label]++
		}
	}
	return counts
}

// ClassesPresent returns how many result classes have at least one example.
func ClassesPresent(examples []LabeledExample) int {
	counts := ClassCounts(examples)
	present := 0
	for _, c := range counts {
		if c > 0 {
			present++
		}
	}
	return present
}
