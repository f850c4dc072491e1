package metrics

import "matchcast/internal/engine"

// Sink adapts Metrics to the narrow interface the engine emits telemetry
// through. The engine stays free of Prometheus types; this adapter is wired
// in at startup.
type Sink struct {
	m *Metrics
}

var _ engine.MetricsSink = (*Sink)(nil)

// NewSink wraps a Metrics instance for use as the engine's telemetry sink.
func NewSink(m *Metrics) *Sink {
	return &Sink{m: m}
}

func (s *Sink) PredictionsInc() {
	s.m.PredictionsTotal.Inc()
}

func (s *Sink) PredictionErrorsInc() {
	s.m.PredictionErrors.Inc()
}

func (s *Sink) ActionableInc() {
	s.m.ActionableTotal.Inc()
}

func (s *Sink) ConfidenceObserve(v float64) {
	s.m.ConfidenceScores.Observe(v)
}

func (s *Sink) InferenceLatencyObserve(seconds float64) {
	s.m.InferenceLatency.Observe(seconds)
}

func (s *Sink) TrainingRunsInc() {
	s.m.TrainingRunsTotal.Inc()
}

func (s *Sink) TrainingFailuresInc() {
	s.m.TrainingFailures.Inc()
}

func (s *Sink) ModelsDegradedAdd(n float64) {
	s.m.ModelsDegraded.Add(n)
}

func (s *Sink) ModelWeightSet(modelName string, weight float64) {
	s.m.ModelWeight.WithLabelValues(modelName).Set(weight)
}

func (s *Sink) TrainingExamplesSet(count int) {
	s.m.TrainingExamples.Set(float64(count))
}

func (s *Sink) TrainingLatencyObserve(seconds float64) {
	s.m.TrainingDuration.Observe(seconds)
}

func (s *Sink) EngineReadySet(ready bool) {
	if ready {
		s.m.EngineReady.Set(1)
	} else {
		s.m.EngineReady.Set(0)
	}
}
