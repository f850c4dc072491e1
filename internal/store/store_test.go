package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"matchcast/internal/dataset"
	"matchcast/internal/engine"
	"matchcast/internal/model"
)

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, dbFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_CreatesMissingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does", "not", "exist")

	store, err := New(missing)
	if err != nil {
		t.Fatalf("Failed to create store in missing directory: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(filepath.Join(missing, dbFile)); err != nil {
		t.Errorf("Database file was not created: %v", err)
	}
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}

	// Closing an already closed store must stay quiet too.
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}
}

func TestStore_CloseNilDB(t *testing.T) {
	store := &Store{db: nil}
	if err := store.Close(); err != nil {
		t.Errorf("Expected no error for nil db, got: %v", err)
	}
}

// makeRun builds a minimal persisted run for one model.
func makeRun(t *testing.T, version string, weights map[string]float64) *engine.TrainingRun {
	t.Helper()

	schema, err := dataset.NewSchema([]string{"f1", "f2"})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}

	reports := make([]engine.ModelReport, 0, len(weights))
	for name, w := range weights {
		reports = append(reports, engine.ModelReport{
			Name:            name,
			HoldoutAccuracy: 0.5,
			Weight:          w,
		})
	}

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &engine.TrainingRun{
		ID:           "run-" + version,
		Version:      version,
		StartedAt:    started,
		CompletedAt:  started.Add(3 * time.Second),
		Examples:     100,
		TrainCount:   80,
		HoldoutCount: 20,
		Models:       reports,
		Weights:      weights,
		Config:       engine.DefaultConfig(),
		Schema:       schema,
	}
}

func TestSaveRunRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	run := makeRun(t, "20250301-120000-aaaa1111", map[string]float64{"alpha": 0.7, "beta": 0.3})
	bundles := map[string][]byte{
		"alpha": []byte(`{"kind":"alpha"}`),
		"beta":  []byte(`{"kind":"beta"}`),
	}

	if err := store.SaveRun(run, bundles); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	loaded, loadedBundles, err := store.LoadRun(run.Version)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if loaded.Version != run.Version || loaded.Examples != run.Examples {
		t.Errorf("run fields lost in round trip: %+v", loaded)
	}
	if len(loaded.Weights) != 2 || loaded.Weights["alpha"] != 0.7 {
		t.Errorf("weights lost in round trip: %v", loaded.Weights)
	}
	if loaded.Schema == nil || loaded.Schema.Len() != 2 {
		t.Errorf("schema lost in round trip: %v", loaded.Schema)
	}
	for name, blob := range bundles {
		if string(loadedBundles[name]) != string(blob) {
			t.Errorf("bundle %s lost in round trip: %q", name, loadedBundles[name])
		}
	}
}

func TestLoadRun_NotFound(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, _, err := store.LoadRun("20990101-000000-deadbeef"); err == nil {
		t.Error("Expected error for unknown version, got nil")
	}
}

func TestLoadRun_MissingBundle(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	run := makeRun(t, "20250301-130000-bbbb2222", map[string]float64{"alpha": 0.6, "beta": 0.4})
	bundles := map[string][]byte{"alpha": []byte(`{}`)}

	if err := store.SaveRun(run, bundles); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	if _, _, err := store.LoadRun(run.Version); err == nil {
		t.Error("Expected error when a weighted model has no bundle, got nil")
	}
}

func TestLoadLatest_Empty(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	run, bundles, err := store.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if run != nil || bundles != nil {
		t.Errorf("Expected empty result from fresh store, got %+v", run)
	}
}

func TestLoadLatest_PointerAdvances(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	versions := []string{
		"20250301-120000-aaaa1111",
		"20250302-120000-bbbb2222",
		"20250303-120000-cccc3333",
	}
	for _, v := range versions {
		run := makeRun(t, v, map[string]float64{"alpha": 1})
		if err := store.SaveRun(run, map[string][]byte{"alpha": []byte(`{}`)}); err != nil {
			t.Fatalf("SaveRun %s failed: %v", v, err)
		}
	}

	latest, _, err := store.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if latest.Version != versions[2] {
		t.Errorf("latest = %s, want %s", latest.Version, versions[2])
	}

	runs, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	for i, want := range []string{versions[2], versions[1], versions[0]} {
		if runs[i].Version != want {
			t.Errorf("runs[%d] = %s, want %s (newest first)", i, runs[i].Version, want)
		}
	}
}

func TestStorePrediction(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	now := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	records := []engine.PredictionRecord{
		{ID: "p1", MatchID: "m1", Outcome: dataset.HomeWin, Confidence: 0.7, CreatedAt: now},
		{ID: "p2", MatchID: "m2", Outcome: dataset.Draw, Confidence: 0.1, CreatedAt: now.Add(time.Minute)},
		{ID: "p3", MatchID: "m1", Outcome: dataset.AwayWin, Confidence: 0.4, CreatedAt: now.Add(2 * time.Minute)},
	}
	for i := range records {
		records[i].Probabilities = model.ProbabilityVector{0.5, 0.3, 0.2}
		if err := store.StorePrediction(&records[i]); err != nil {
			t.Fatalf("StorePrediction failed: %v", err)
		}
	}

	// Inclusive window covering the first two records only.
	got, err := store.PredictionsInRange(now, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("PredictionsInRange failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 predictions in range, got %d", len(got))
	}
	if got[0].ID != "p1" || got[1].ID != "p2" {
		t.Errorf("Expected oldest-first order, got %s then %s", got[0].ID, got[1].ID)
	}

	forMatch, err := store.PredictionsForMatch("m1")
	if err != nil {
		t.Fatalf("PredictionsForMatch failed: %v", err)
	}
	if len(forMatch) != 2 {
		t.Fatalf("Expected 2 predictions for m1, got %d", len(forMatch))
	}
	if forMatch[0].ID != "p1" || forMatch[1].ID != "p3" {
		t.Errorf("Wrong records for m1: %s, %s", forMatch[0].ID, forMatch[1].ID)
	}
}

func TestPredictionsInRange_Empty(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	now := time.Now()
	records, err := store.PredictionsInRange(now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("PredictionsInRange failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected empty result, got %d records", len(records))
	}
}

// engineTable builds a deterministic labeled table large enough to train on.
func engineTable(t *testing.T, n int) *dataset.Table {
	t.Helper()

	schema, err := dataset.NewSchema([]string{
		model.FeatHomeAttack, model.FeatHomeDefense, model.FeatAwayAttack, model.FeatAwayDefense, "form_diff",
	})
	if err != nil {
		t.Fatalf("NewSchema failed: %v", err)
	}

	seed := uint32(41)
	next := func() float64 {
		seed = seed*1664525 + 1013904223
		return float64(seed>>8) / float64(1<<24)
	}

	base := time.Date(2024, 9, 1, 14, 0, 0, 0, time.UTC)
	table := &dataset.Table{Schema: schema}
	for i := 0; i < n; i++ {
		ha := 0.6 + 0.9*next()
		hd := 0.6 + 0.9*next()
		aa := 0.6 + 0.9*next()
		ad := 0.6 + 0.9*next()
		balance := ha*ad - aa*hd + 0.1

		label := dataset.Draw
		if balance > 0.15 {
			label = dataset.HomeWin
		} else if balance < -0.15 {
			label = dataset.AwayWin
		}

		table.Examples = append(table.Examples, dataset.LabeledExample{
			FeatureVector: dataset.FeatureVector{
				MatchID: fmt.Sprintf("rt%04d", i),
				Kickoff: base.Add(time.Duration(i) * 24 * time.Hour),
				Values:  []float64{ha, hd, aa, ad, balance},
			},
			Label: label,
		})
	}
	return table
}

// TestEngineRoundTrip trains an engine against a real store, reopens the
// database cold, restores a second engine from it, and checks both produce
// identical predictions.
func TestEngineRoundTrip(t *testing.T) {
	dir := t.TempDir()

	first, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	cfg := engine.DefaultConfig()
	cfg.Models = []string{model.LogisticName, model.GBDTName}

	trained, err := engine.NewWithStore(cfg, first, nil)
	if err != nil {
		t.Fatalf("NewWithStore failed: %v", err)
	}
	run, err := trained.Train(context.Background(), engineTable(t, 120))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	fv := dataset.FeatureVector{MatchID: "cold-start", Values: []float64{1.3, 0.8, 0.9, 1.2, 0.55}}
	want, err := trained.Predict(context.Background(), fv)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer second.Close()

	restored, err := engine.NewWithStore(cfg, second, nil)
	if err != nil {
		t.Fatalf("NewWithStore failed: %v", err)
	}
	if err := restored.LoadLatest(context.Background()); err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if restored.Version() != run.Version {
		t.Errorf("restored version %s, want %s", restored.Version(), run.Version)
	}

	got, err := restored.Predict(context.Background(), fv)
	if err != nil {
		t.Fatalf("Predict after restore failed: %v", err)
	}
	if got.Probabilities != want.Probabilities {
		t.Errorf("restored engine diverges: %v vs %v", got.Probabilities, want.Probabilities)
	}
	if got.Outcome != want.Outcome || got.Actionable != want.Actionable {
		t.Errorf("restored decision diverges: %+v vs %+v", got, want)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	done := make(chan bool, 10)
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		go func(id int) {
			for j := 0; j < 10; j++ {
				record := engine.PredictionRecord{
					ID:            fmt.Sprintf("w%d-%d", id, j),
					MatchID:       fmt.Sprintf("match-%d", id),
					Probabilities: model.ProbabilityVector{0.4, 0.3, 0.3},
					Outcome:       dataset.HomeWin,
					Confidence:    0.1,
					CreatedAt:     base.Add(time.Duration(id*100+j) * time.Millisecond),
				}
				store.StorePrediction(&record)
			}
			done <- true
		}(i)
	}

	for i := 0; i < 5; i++ {
		go func(int) {
			for j := 0; j < 10; j++ {
				store.PredictionsInRange(base.Add(-time.Second), base.Add(time.Second))
				store.ListRuns()
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
