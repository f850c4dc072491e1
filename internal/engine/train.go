package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"matchcast/internal/dataset"
	"matchcast/internal/ensemble"
	"matchcast/internal/model"
)

// Pipeline stages, logged at every transition.
const (
	stageSplitting  = "splitting"
	stageFitting    = "fitting"
	stageScoring    = "scoring"
	stageWeighting  = "weighting"
	stagePersisting = "persisting"
	stageIdle       = "idle"
)

// Train runs the full pipeline on a feature table: chronological split,
// parallel per-model fit, holdout scoring, accuracy weighting, persistence,
// then an atomic swap of the engine state. A model failing to fit degrades
// that model only; the run aborts only when the table is unusable
// (DataInsufficientError) or no model survives (AllModelsFailedError), and
// in both cases the previously trained state stays authoritative.
func (e *Engine) Train(ctx context.Context, table *dataset.Table) (*TrainingRun, error) {
	e.trainMu.Lock()
	defer e.trainMu.Unlock()

	start := time.Now().UTC()
	if e.metrics != nil {
		e.metrics.TrainingRunsInc()
	}
	fail := func(err error) (*TrainingRun, error) {
		if e.metrics != nil {
			e.metrics.TrainingFailuresInc()
		}
		return nil, err
	}

	runID := uuid.NewString()
	version := start.Format("20060102-150405") + "-" + runID[:8]
	logger := log.With().Str("version", version).Logger()

	trainPart, holdout, err := e.split(logger, table)
	if err != nil {
		return fail(err)
	}

	logger.Info().
		Str("stage", stageFitting).
		Strs("models", e.cfg.Models).
		Int("train", len(trainPart)).
		Msg("Fitting base models")

	results := e.fitAll(ctx, trainPart, table.Schema)

	logger.Info().Str("stage", stageScoring).Int("holdout", len(holdout)).Msg("Scoring on holdout")

	reports := make([]ModelReport, 0, len(e.cfg.Models))
	fitted := make(map[string]model.Model, len(e.cfg.Models))
	accuracies := make(map[string]float64, len(e.cfg.Models))
	var failures []*TrainingError

	for _, res := range results {
		report := res.report
		if res.err == nil {
			overall, perClass, scoreErr := scoreHoldout(res.model, holdout)
			if scoreErr != nil {
				res.err = &TrainingError{Model: report.Name, Stage: stageScoring, Err: scoreErr}
			} else {
				report.HoldoutAccuracy = overall
				report.ClassAccuracy = perClass
			}
		}

		if res.err != nil {
			report.Degraded = true
			report.Error = res.err.Error()
			failures = append(failures, res.err)
			logger.Warn().
				Str("model", report.Name).
				Err(res.err).
				Msg("Model degraded for this run")
		} else {
			fitted[report.Name] = res.model
			accuracies[report.Name] = report.HoldoutAccuracy
		}
		reports = append(reports, report)
	}

	if e.metrics != nil && len(failures) > 0 {
		e.metrics.ModelsDegradedAdd(float64(len(failures)))
	}
	if len(fitted) == 0 {
		return fail(&AllModelsFailedError{Failures: failures})
	}

	logger.Info().Str("stage", stageWeighting).Int("survivors", len(fitted)).Msg("Computing ensemble weights")

	weights, err := ensemble.WeightsFromAccuracy(accuracies, e.cfg.SharpnessExponent, e.cfg.WeightFloor)
	if err != nil {
		return fail(fmt.Errorf("weighting failed: %w", err))
	}
	for i := range reports {
		reports[i].Weight = weights[reports[i].Name]
	}

	run := &TrainingRun{
		ID:           runID,
		Version:      version,
		StartedAt:    start,
		CompletedAt:  time.Now().UTC(),
		Examples:     table.Len(),
		TrainCount:   len(trainPart),
		HoldoutCount: len(holdout),
		Models:       reports,
		Weights:      weights,
		Config:       e.cfg,
		Schema:       table.Schema,
	}

	logger.Info().Str("stage", stagePersisting).Msg("Persisting run")

	bundles := make(map[string][]byte, len(fitted))
	for name, m := range fitted {
		blob, err := m.MarshalBinary()
		if err != nil {
			return fail(fmt.Errorf("failed to serialize model %s: %w", name, err))
		}
		bundles[name] = blob
	}
	if e.store != nil {
		if err := e.store.SaveRun(run, bundles); err != nil {
			return fail(fmt.Errorf("failed to persist run %s: %w", version, err))
		}
	}

	combiner, err := ensemble.NewCombiner(weights)
	if err != nil {
		return fail(fmt.Errorf("failed to build combiner: %w", err))
	}
	e.publish(&state{run: run, models: fitted, combiner: combiner})

	if e.metrics != nil {
		for name, w := range weights {
			e.metrics.ModelWeightSet(name, w)
		}
		e.metrics.TrainingExamplesSet(run.Examples)
		e.metrics.TrainingLatencyObserve(time.Since(start).Seconds())
	}

	logger.Info().
		Str("stage", stageIdle).
		Int("survivors", len(fitted)).
		Int("degraded", len(failures)).
		Interface("weights", weights).
		Float64("duration_s", time.Since(start).Seconds()).
		Msg("Training run complete")

	return run, nil
}

// split validates the table and carves off the chronological holdout.
// Anything wrong here is a DataInsufficientError: the run never started.
func (e *Engine) split(logger zerolog.Logger, table *dataset.Table) (trainPart, holdout []dataset.LabeledExample, err error) {
	if table == nil || table.Schema == nil {
		return nil, nil, &DataInsufficientError{Reason: "no feature table"}
	}

	logger.Info().
		Str("stage", stageSplitting).
		Int("examples", table.Len()).
		Float64("holdout_fraction", e.cfg.HoldoutFraction).
		Msg("Training run started")

	if table.Len() < e.cfg.MinTrainingExamples {
		return nil, nil, &DataInsufficientError{Need: e.cfg.MinTrainingExamples, Got: table.Len()}
	}
	if err := table.Validate(); err != nil {
		return nil, nil, &DataInsufficientError{Reason: err.Error()}
	}
	counts := dataset.ClassCounts(table.Examples)
	for class, count := range counts {
		if count == 0 {
			return nil, nil, &DataInsufficientError{
				Reason: fmt.Sprintf("outcome class %s has zero examples", dataset.Outcome(class)),
			}
		}
	}

	trainPart, holdout, splitErr := dataset.SplitChronological(table.Examples, e.cfg.HoldoutFraction)
	if splitErr != nil {
		return nil, nil, &DataInsufficientError{Reason: splitErr.Error()}
	}
	return trainPart, holdout, nil
}

type fitResult struct {
	report ModelReport
	model  model.Model
	err    *TrainingError
}

// fitAll fits every enabled variant in parallel. Results land in index
// slots; a failing or panicking model fills its slot with a TrainingError
// instead of taking the run down.
func (e *Engine) fitAll(ctx context.Context, trainPart []dataset.LabeledExample, schema *dataset.Schema) []fitResult {
	results := make([]fitResult, len(e.cfg.Models))

	var g errgroup.Group
	for i, name := range e.cfg.Models {
		i, name := i, name
		g.Go(func() error {
			results[i] = fitOne(ctx, name, trainPart, schema)
			return nil
		})
	}
	_ = g.Wait() // per-model errors live in the result slots

	return results
}

func fitOne(ctx context.Context, name string, trainPart []dataset.LabeledExample, schema *dataset.Schema) (res fitResult) {
	res.report = ModelReport{Name: name}

	// A panicking model degrades; it does not kill the run.
	defer func() {
		if r := recover(); r != nil {
			res.model = nil
			res.err = &TrainingError{Model: name, Stage: stageFitting, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	m, err := model.New(name)
	if err != nil {
		res.err = &TrainingError{Model: name, Stage: stageFitting, Err: err}
		return res
	}

	fitStart := time.Now()
	if err := m.Fit(ctx, trainPart, schema); err != nil {
		res.err = &TrainingError{Model: name, Stage: stageFitting, Err: err}
		return res
	}
	res.report.FitSeconds = time.Since(fitStart).Seconds()
	res.model = m
	return res
}

// scoreHoldout computes overall and per-class accuracy on the holdout
// slice. A class absent from the holdout scores zero rather than poisoning
// the report with NaN.
func scoreHoldout(m model.Model, holdout []dataset.LabeledExample) (float64, [dataset.NumOutcomes]float64, error) {
	var perClass [dataset.NumOutcomes]float64
	var correct int
	var classCorrect, classTotal [dataset.NumOutcomes]int

	for _, ex := range holdout {
		probs, err := m.PredictProba(ex.FeatureVector)
		if err != nil {
			return 0, perClass, fmt.Errorf("holdout prediction for %s: %w", ex.MatchID, err)
		}
		classTotal[ex.Label]++
		if probs.ArgMax() == ex.Label {
			correct++
			classCorrect[ex.Label]++
		}
	}

	for c := range perClass {
		if classTotal[c] > 0 {
			perClass[c] = float64(classCorrect[c]) / float64(classTotal[c])
		}
	}
	return float64(correct) / float64(len(holdout)), perClass, nil
}
