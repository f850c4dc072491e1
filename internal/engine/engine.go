// Package engine ties the base models, the combiner and the confidence gate
// into one facade: train on a feature table, predict single matches or
// batches, persist and reload trained state. Trained state is swapped in
// atomically, so readers always see a complete generation, never a mix.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"matchcast/internal/dataset"
	"matchcast/internal/ensemble"
	"matchcast/internal/model"
)

// batchWorkers caps concurrent batch predictions.
const batchWorkers = 8

// ErrNoPersistedState is returned by LoadLatest when the store holds no run.
var ErrNoPersistedState = errors.New("no persisted training run")

// Persister is the slice of the store the engine needs: save a completed run
// with its model bundles, load the newest one back.
type Persister interface {
	SaveRun(run *TrainingRun, bundles map[string][]byte) error
	LoadLatest() (*TrainingRun, map[string][]byte, error)
}

// MetricsSink receives engine telemetry. A nil sink disables all of it.
type MetricsSink interface {
	PredictionsInc()
	PredictionErrorsInc()
	ActionableInc()
	ConfidenceObserve(float64)
	InferenceLatencyObserve(float64)
	TrainingRunsInc()
	TrainingFailuresInc()
	ModelsDegradedAdd(float64)
	ModelWeightSet(modelName string, weight float64)
	TrainingExamplesSet(count int)
	TrainingLatencyObserve(float64)
	EngineReadySet(bool)
}

// state is one immutable trained generation. The engine never mutates a
// published state; training builds a fresh one and swaps the pointer.
type state struct {
	run      *TrainingRun
	models   map[string]model.Model
	combiner *ensemble.Combiner
}

// Engine is the prediction facade. Safe for concurrent use: predictions take
// a read snapshot of the current state, training publishes a new one under
// the write lock.
type Engine struct {
	cfg     Config
	gate    *ensemble.Gate
	store   Persister
	metrics MetricsSink

	trainMu sync.Mutex // serializes training runs (single writer)
	mu      sync.RWMutex
	current *state
}

// New builds an engine with no persistence and no metrics, mostly for tests
// and embedding.
func New(cfg Config) (*Engine, error) {
	return NewWithStore(cfg, nil, nil)
}

// NewWithStore builds an engine backed by a store for run persistence.
// Both store and metrics may be nil.
func NewWithStore(cfg Config, store Persister, metrics MetricsSink) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	gate, err := ensemble.NewGate(cfg.ConfidenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return &Engine{cfg: cfg, gate: gate, store: store, metrics: metrics}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Ready reports whether the engine holds trained state.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current != nil
}

// Version returns the active training run version, empty when untrained.
func (e *Engine) Version() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return ""
	}
	return e.current.run.Version
}

// LatestRun returns the active training run, nil when untrained.
func (e *Engine) LatestRun() *TrainingRun {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return nil
	}
	return e.current.run
}

// Weights returns the active ensemble weights, nil when untrained.
func (e *Engine) Weights() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current == nil {
		return nil
	}
	return e.current.combiner.Weights()
}

func (e *Engine) snapshot() *state {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

func (e *Engine) publish(s *state) {
	e.mu.Lock()
	e.current = s
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.EngineReadySet(true)
	}
}

// Predict scores a single match. Every enabled model votes in parallel and
// the combiner waits for all of them; if any vote fails, the whole call
// fails with an InferenceError rather than silently re-weighting the
// ensemble around the hole.
func (e *Engine) Predict(ctx context.Context, fv dataset.FeatureVector) (*PredictionRecord, error) {
	start := time.Now()

	record, err := e.predict(ctx, fv)
	if err != nil {
		if e.metrics != nil {
			e.metrics.PredictionErrorsInc()
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.PredictionsInc()
		e.metrics.ConfidenceObserve(record.Confidence)
		e.metrics.InferenceLatencyObserve(time.Since(start).Seconds())
		if record.Actionable {
			e.metrics.ActionableInc()
		}
	}
	return record, nil
}

func (e *Engine) predict(ctx context.Context, fv dataset.FeatureVector) (*PredictionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &InferenceError{MatchID: fv.MatchID, Err: err}
	}

	snap := e.snapshot()
	if snap == nil {
		return nil, &InferenceError{MatchID: fv.MatchID, Err: errors.New("engine holds no trained state")}
	}
	if err := snap.run.Schema.Validate(fv); err != nil {
		return nil, &InferenceError{MatchID: fv.MatchID, Err: err}
	}

	names := make([]string, 0, len(snap.models))
	for name := range snap.models {
		names = append(names, name)
	}
	sort.Strings(names)

	votes := make([]model.ProbabilityVector, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			probs, err := snap.models[name].PredictProba(fv)
			if err != nil {
				return &InferenceError{MatchID: fv.MatchID, Model: name, Err: err}
			}
			votes[i] = probs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byName := make(map[string]model.ProbabilityVector, len(names))
	for i, name := range names {
		byName[name] = votes[i]
	}
	combined, untrained, err := snap.combiner.Combine(byName)
	if err != nil {
		return nil, &InferenceError{MatchID: fv.MatchID, Err: err}
	}

	confidence, actionable := e.gate.Evaluate(combined)
	record := &PredictionRecord{
		ID:            uuid.NewString(),
		MatchID:       fv.MatchID,
		ModelVersion:  snap.run.Version,
		Probabilities: combined,
		Outcome:       combined.ArgMax(),
		Confidence:    confidence,
		Actionable:    actionable,
		Untrained:     untrained,
		CreatedAt:     time.Now().UTC(),
	}

	log.Debug().
		Str("match", fv.MatchID).
		Str("version", record.ModelVersion).
		Str("outcome", record.Outcome.String()).
		Float64("confidence", confidence).
		Bool("actionable", actionable).
		Msg("Prediction produced")

	return record, nil
}

// PredictBatch scores every input and returns one item per input in order.
// A failing item carries its error in place; the rest of the batch is
// unaffected. This deliberately differs from Predict's all-or-nothing rule,
// because batch callers need the partial results.
func (e *Engine) PredictBatch(ctx context.Context, fvs []dataset.FeatureVector) []BatchItem {
	items := make([]BatchItem, len(fvs))

	var g errgroup.Group
	g.SetLimit(batchWorkers)
	for i := range fvs {
		i := i
		g.Go(func() error {
			record, err := e.Predict(ctx, fvs[i])
			items[i] = BatchItem{Index: i, Record: record, Err: err}
			return nil
		})
	}
	_ = g.Wait() // item errors live in the items themselves

	return items
}

// LoadLatest restores the newest persisted run and its model bundles,
// making the engine ready without retraining. Returns ErrNoPersistedState
// when the store is empty.
func (e *Engine) LoadLatest(ctx context.Context) error {
	if e.store == nil {
		return errors.New("engine has no store to load from")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	run, bundles, err := e.store.LoadLatest()
	if err != nil {
		return fmt.Errorf("failed to load latest run: %w", err)
	}
	if run == nil {
		return ErrNoPersistedState
	}

	restored, err := restoreState(run, bundles)
	if err != nil {
		return err
	}

	e.publish(restored)
	if e.metrics != nil {
		for name, w := range run.Weights {
			e.metrics.ModelWeightSet(name, w)
		}
	}

	log.Info().
		Str("version", run.Version).
		Int("models", len(restored.models)).
		Msg("Trained state restored from store")
	return nil
}

// restoreState rebuilds the in-memory generation from a persisted run.
// Every weighted model must have a bundle; a missing or undecodable bundle
// fails the whole load, never a partial ensemble.
func restoreState(run *TrainingRun, bundles map[string][]byte) (*state, error) {
	if run.Schema == nil {
		return nil, fmt.Errorf("run %s carries no schema", run.Version)
	}

	models := make(map[string]model.Model, len(run.Weights))
	for name := range run.Weights {
		blob, ok := bundles[name]
		if !ok {
			return nil, fmt.Errorf("run %s has weight for %q but no bundle", run.Version, name)
		}
		m, err := model.New(name)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", run.Version, err)
		}
		if err := m.UnmarshalBinary(blob); err != nil {
			return nil, fmt.Errorf("run %s: failed to restore %q: %w", run.Version, name, err)
		}
		models[name] = m
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("run %s has no restorable models", run.Version)
	}

	combiner, err := ensemble.NewCombiner(run.Weights)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", run.Version, err)
	}

	return &state{run: run, models: models, combiner: combiner}, nil
}
