package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"matchcast/internal/dataset"
	"matchcast/internal/model"
)

func TestTrainEnsembleEndToEnd(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cfg := testConfig(model.GBDTName, model.LogisticName, model.PoissonName)
	eng, err := NewWithStore(cfg, store, nil)
	if err != nil {
		t.Fatalf("NewWithStore failed: %v", err)
	}

	table := makeTable(t, 200)
	run, err := eng.Train(context.Background(), table)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if run.Examples != 200 || run.TrainCount != 160 || run.HoldoutCount != 40 {
		t.Errorf("unexpected counts: %d/%d/%d", run.Examples, run.TrainCount, run.HoldoutCount)
	}
	if run.Version == "" || run.ID == "" {
		t.Error("run must carry id and version")
	}
	if len(run.Models) != 3 {
		t.Fatalf("expected 3 model reports, got %d", len(run.Models))
	}
	for i, name := range cfg.Models {
		report := run.Models[i]
		if report.Name != name {
			t.Errorf("report %d is %q, want %q (config order)", i, report.Name, name)
		}
		if report.Degraded {
			t.Errorf("model %s unexpectedly degraded: %s", report.Name, report.Error)
		}
		if report.HoldoutAccuracy < 0 || report.HoldoutAccuracy > 1 {
			t.Errorf("model %s holdout accuracy out of range: %v", report.Name, report.HoldoutAccuracy)
		}
		if report.Weight < cfg.WeightFloor {
			t.Errorf("model %s weight %v below floor", report.Name, report.Weight)
		}
	}

	if !eng.Ready() || eng.Version() != run.Version {
		t.Error("engine should expose the new run after training")
	}
	if store.savedRuns() != 1 {
		t.Errorf("expected 1 persisted run, got %d", store.savedRuns())
	}

	record, err := eng.Predict(context.Background(), dataset.FeatureVector{
		MatchID: "fx-1",
		Values:  []float64{1.4, 0.8, 0.7, 1.3, 0.9},
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if err := record.Probabilities.Validate(); err != nil {
		t.Errorf("prediction invalid: %v", err)
	}
}

func TestTrainWeightMonotonicity(t *testing.T) {
	t.Parallel()

	eng, err := New(testConfig(model.GBDTName, model.LogisticName, model.PoissonName))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	run, err := eng.Train(context.Background(), makeTable(t, 200))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	for _, a := range run.Models {
		for _, b := range run.Models {
			if a.Degraded || b.Degraded {
				continue
			}
			if a.HoldoutAccuracy > b.HoldoutAccuracy && a.Weight < b.Weight {
				t.Errorf("weight order violates accuracy order: %s (%v, %v) vs %s (%v, %v)",
					a.Name, a.HoldoutAccuracy, a.Weight, b.Name, b.HoldoutAccuracy, b.Weight)
			}
		}
	}
}

func TestTrainRejectsSmallTable(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	eng, err := NewWithStore(testConfig(stubGoodName), store, nil)
	if err != nil {
		t.Fatalf("NewWithStore failed: %v", err)
	}

	_, err = eng.Train(context.Background(), makeTable(t, 40))
	var dataErr *DataInsufficientError
	if !errors.As(err, &dataErr) {
		t.Fatalf("expected DataInsufficientError, got %v", err)
	}
	if dataErr.Need != 50 || dataErr.Got != 40 {
		t.Errorf("error should carry need/got: %+v", dataErr)
	}
	if !strings.Contains(err.Error(), "50") || !strings.Contains(err.Error(), "40") {
		t.Errorf("message should mention both numbers: %q", err.Error())
	}
	if eng.Ready() || store.savedRuns() != 0 {
		t.Error("failed run must not install or persist state")
	}
}

func TestTrainRejectsMissingClass(t *testing.T) {
	t.Parallel()

	table := makeTable(t, 120)
	for i := range table.Examples {
		if table.Examples[i].Label == dataset.AwayWin {
			table.Examples[i].Label = dataset.Draw
		}
	}

	eng, err := New(testConfig(stubGoodName))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = eng.Train(context.Background(), table)
	var dataErr *DataInsufficientError
	if !errors.As(err, &dataErr) {
		t.Fatalf("expected DataInsufficientError, got %v", err)
	}
	if !strings.Contains(err.Error(), "A") {
		t.Errorf("message should name the empty class: %q", err.Error())
	}
}

func TestTrainFailedRunLeavesPriorStateUntouched(t *testing.T) {
	t.Parallel()

	eng, err := New(testConfig(stubGoodName))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	run, err := eng.Train(context.Background(), makeTable(t, 120))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	if _, err := eng.Train(context.Background(), makeTable(t, 40)); err == nil {
		t.Fatal("expected failure on small table")
	}
	if eng.Version() != run.Version {
		t.Errorf("failed run replaced state: %q vs %q", eng.Version(), run.Version)
	}
}

func TestTrainDegradedModelDoesNotFailRun(t *testing.T) {
	t.Parallel()

	eng, err := New(testConfig(stubFailName, stubGoodName))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	run, err := eng.Train(context.Background(), makeTable(t, 120))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	failed := run.Report(stubFailName)
	if failed == nil || !failed.Degraded {
		t.Fatalf("failing model should be marked degraded: %+v", failed)
	}
	if failed.Weight != 0 {
		t.Errorf("degraded model weight = %v, want 0", failed.Weight)
	}
	if failed.Error == "" {
		t.Error("degraded report should carry the error text")
	}
	if _, ok := run.Weights[stubFailName]; ok {
		t.Error("degraded model must not appear in the weight table")
	}

	survivor := run.Report(stubGoodName)
	if survivor == nil || survivor.Degraded {
		t.Fatalf("surviving model report wrong: %+v", survivor)
	}
	if got := run.DegradedModels(); len(got) != 1 || got[0] != stubFailName {
		t.Errorf("DegradedModels = %v", got)
	}

	// The surviving model alone serves predictions.
	record, err := eng.Predict(context.Background(), dataset.FeatureVector{
		MatchID: "after-degrade",
		Values:  []float64{1, 1, 1, 1, 0},
	})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if record.Untrained {
		t.Error("one surviving weighted model should not trigger untrained fallback")
	}
}

func TestTrainPanickingModelDegrades(t *testing.T) {
	t.Parallel()

	eng, err := New(testConfig(stubPanicName, stubGoodName))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	run, err := eng.Train(context.Background(), makeTable(t, 120))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	report := run.Report(stubPanicName)
	if report == nil || !report.Degraded {
		t.Fatalf("panicking model should degrade: %+v", report)
	}
	if !strings.Contains(report.Error, "panic") {
		t.Errorf("report should mention the panic: %q", report.Error)
	}
}

func TestTrainAllModelsFailed(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	eng, err := NewWithStore(testConfig(stubFailName, stubPanicName), store, nil)
	if err != nil {
		t.Fatalf("NewWithStore failed: %v", err)
	}

	_, err = eng.Train(context.Background(), makeTable(t, 120))
	var allErr *AllModelsFailedError
	if !errors.As(err, &allErr) {
		t.Fatalf("expected AllModelsFailedError, got %v", err)
	}
	if len(allErr.Failures) != 2 {
		t.Errorf("expected 2 recorded failures, got %d", len(allErr.Failures))
	}
	if eng.Ready() {
		t.Error("engine must stay untrained after total failure")
	}
	if store.savedRuns() != 0 {
		t.Error("nothing may be persisted when every model fails")
	}
}

func TestTrainPersistFailureKeepsOldState(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	eng, err := NewWithStore(testConfig(stubGoodName), store, nil)
	if err != nil {
		t.Fatalf("NewWithStore failed: %v", err)
	}
	run, err := eng.Train(context.Background(), makeTable(t, 120))
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	store.mu.Lock()
	store.failSave = true
	store.mu.Unlock()

	if _, err := eng.Train(context.Background(), makeTable(t, 130)); err == nil {
		t.Fatal("expected persist failure to fail the run")
	}
	if eng.Version() != run.Version {
		t.Errorf("persist failure must not swap state: %q vs %q", eng.Version(), run.Version)
	}
}

func TestTrainDeterminism(t *testing.T) {
	t.Parallel()

	cfg := testConfig(model.GBDTName, model.LogisticName)
	table := makeTable(t, 160)

	first, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	second, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	runA, err := first.Train(context.Background(), table)
	if err != nil {
		t.Fatalf("first Train failed: %v", err)
	}
	runB, err := second.Train(context.Background(), table)
	if err != nil {
		t.Fatalf("second Train failed: %v", err)
	}

	if len(runA.Weights) != len(runB.Weights) {
		t.Fatalf("weight tables differ in size")
	}
	for name, w := range runA.Weights {
		if runB.Weights[name] != w {
			t.Errorf("weight for %s differs: %v vs %v", name, w, runB.Weights[name])
		}
	}

	fv := dataset.FeatureVector{MatchID: "det", Values: []float64{1.2, 0.9, 0.8, 1.1, 0.4}}
	recA, err := first.Predict(context.Background(), fv)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	recB, err := second.Predict(context.Background(), fv)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if recA.Probabilities != recB.Probabilities {
		t.Errorf("identical training produced different predictions: %v vs %v",
			recA.Probabilities, recB.Probabilities)
	}
}

func TestConcurrentPredictDuringTrain(t *testing.T) {
	t.Parallel()

	eng, err := New(testConfig(stubGoodName))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := eng.Train(context.Background(), makeTable(t, 120)); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	v1 := eng.Version()

	fv := dataset.FeatureVector{MatchID: "conc", Values: []float64{1, 1, 1, 1, 0}}
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				record, err := eng.Predict(context.Background(), fv)
				if err != nil {
					t.Errorf("Predict failed: %v", err)
					return
				}
				if record.ModelVersion == "" {
					t.Error("record lost its version mid-swap")
					return
				}
			}
		}()
	}

	if _, err := eng.Train(context.Background(), makeTable(t, 140)); err != nil {
		t.Errorf("concurrent Train failed: %v", err)
	}
	wg.Wait()

	if eng.Version() == v1 {
		t.Error("second training run should have swapped the version")
	}
}

// recordingSink counts telemetry calls.
type recordingSink struct {
	mu          sync.Mutex
	predictions int
	errors      int
	actionable  int
	runs        int
	failures    int
	degraded    float64
	weights     map[string]float64
	ready       bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{weights: make(map[string]float64)}
}

func (r *recordingSink) PredictionsInc() {
	r.mu.Lock()
	r.predictions++
	r.mu.Unlock()
}

func (r *recordingSink) PredictionErrorsInc() {
	r.mu.Lock()
	r.errors++
	r.mu.Unlock()
}

func (r *recordingSink) ActionableInc() {
	r.mu.Lock()
	r.actionable++
	r.mu.Unlock()
}

func (r *recordingSink) ConfidenceObserve(float64) {}

func (r *recordingSink) InferenceLatencyObserve(float64) {}

func (r *recordingSink) TrainingRunsInc() {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
}

func (r *recordingSink) TrainingFailuresInc() {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

func (r *recordingSink) ModelsDegradedAdd(n float64) {
	r.mu.Lock()
	r.degraded += n
	r.mu.Unlock()
}

func (r *recordingSink) ModelWeightSet(name string, w float64) {
	r.mu.Lock()
	r.weights[name] = w
	r.mu.Unlock()
}

func (r *recordingSink) TrainingExamplesSet(int) {}

func (r *recordingSink) TrainingLatencyObserve(float64) {}

func (r *recordingSink) EngineReadySet(ready bool) {
	r.mu.Lock()
	r.ready = ready
	r.mu.Unlock()
}

func TestEngineReportsTelemetry(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink()
	eng, err := NewWithStore(testConfig(stubFailName, stubGoodName), nil, sink)
	if err != nil {
		t.Fatalf("NewWithStore failed: %v", err)
	}

	if _, err := eng.Train(context.Background(), makeTable(t, 120)); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if _, err := eng.Train(context.Background(), makeTable(t, 10)); err == nil {
		t.Fatal("expected small-table failure")
	}

	fv := dataset.FeatureVector{MatchID: "telemetry", Values: []float64{1, 1, 1, 1, 0}}
	if _, err := eng.Predict(context.Background(), fv); err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if _, err := eng.Predict(context.Background(), dataset.FeatureVector{MatchID: "bad"}); err == nil {
		t.Fatal("expected schema mismatch failure")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.runs != 2 || sink.failures != 1 {
		t.Errorf("training telemetry: runs=%d failures=%d", sink.runs, sink.failures)
	}
	if sink.predictions != 1 || sink.errors != 1 {
		t.Errorf("prediction telemetry: ok=%d errors=%d", sink.predictions, sink.errors)
	}
	if sink.degraded != 1 {
		t.Errorf("degraded telemetry: %v", sink.degraded)
	}
	if !sink.ready {
		t.Error("ready gauge should be set after training")
	}
	if _, ok := sink.weights[stubGoodName]; !ok {
		t.Error("weight gauge should be set for the surviving model")
	}
}
