package dataset

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTableCSVRoundTrip(t *testing.T) {
	t.Parallel()

	schema, err := NewSchema([]string{"home_form", "away_form", "rest_diff"})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}
	table := &Table{
		Schema: schema,
		Examples: []LabeledExample{
			{
				FeatureVector: FeatureVector{
					MatchID: "2024-08-17-ARS-WOL",
					Kickoff: time.Date(2024, 8, 17, 15, 0, 0, 0, time.UTC),
					Values:  []float64{2.1, 0.9, -1},
				},
				Label: HomeWin,
			},
			{
				FeatureVector: FeatureVector{
					MatchID: "2024-08-18-CHE-MCI",
					Kickoff: time.Date(2024, 8, 18, 16, 30, 0, 0, time.UTC),
					Values:  []float64{1.4, 1.8, 2},
				},
				Label: AwayWin,
			},
		},
	}

	path := filepath.Join(t.TempDir(), "table.csv")
	if err := WriteTableCSV(path, table); err != nil {
		t.Fatalf("WriteTableCSV failed: %v", err)
	}

	loaded, err := ReadTableCSV(path)
	if err != nil {
		t.Fatalf("ReadTableCSV failed: %v", err)
	}
	if !loaded.Schema.Equal(table.Schema) {
		t.Fatalf("schema mismatch after round trip: %v vs %v", loaded.Schema.Names(), table.Schema.Names())
	}
	if loaded.Len() != table.Len() {
		t.Fatalf("expected %d examples, got %d", table.Len(), loaded.Len())
	}
	for i, ex := range loaded.Examples {
		want := table.Examples[i]
		if ex.MatchID != want.MatchID || ex.Label != want.Label || !ex.Kickoff.Equal(want.Kickoff) {
			t.Errorf("row %d metadata mismatch: %+v vs %+v", i, ex, want)
		}
		for j, v := range ex.Values {
			if v != want.Values[j] {
				t.Errorf("row %d value %d: %v vs %v", i, j, v, want.Values[j])
			}
		}
	}
}

func TestReadTableCSVRejectsMalformedRows(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{
			name: "bad header order",
			body: "kickoff,match_id,label,f1\n2024-08-17,m1,H,1.0\n",
		},
		{
			name: "no feature columns",
			body: "match_id,kickoff,label\nm1,2024-08-17,H\n",
		},
		{
			name: "bad label",
			body: "match_id,kickoff,label,f1\nm1,2024-08-17,W,1.0\n",
		},
		{
			name: "bad kickoff",
			body: "match_id,kickoff,label,f1\nm1,yesterday,H,1.0\n",
		},
		{
			name: "bad feature value",
			body: "match_id,kickoff,label,f1\nm1,2024-08-17,H,lots\n",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "table.csv")
			if err := os.WriteFile(path, []byte(tc.body), 0o600); err != nil {
				t.Fatalf("write fixture: %v", err)
			}
			if _, err := ReadTableCSV(path); err == nil {
				t.Error("expected load error")
			}
		})
	}
}
