// Package metrics provides Prometheus metrics collection for the prediction
// engine. It defines and manages all training and inference metrics that are
// exposed via the Prometheus metrics endpoint for monitoring and alerting.
//
// The package includes metrics for prediction volume, confidence
// distribution, gate decisions, training runs, and per-model ensemble
// weights.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the prediction engine.
// It provides counters, gauges, and histograms for comprehensive monitoring
// of inference traffic, training pipeline health, and ensemble composition.
type Metrics struct {
	// Inference metrics
	PredictionsTotal prometheus.Counter   // Total number of predictions produced
	PredictionErrors prometheus.Counter   // Total number of failed prediction calls
	ActionableTotal  prometheus.Counter   // Predictions that passed the confidence gate
	ConfidenceScores prometheus.Histogram // Distribution of confidence scores
	InferenceLatency prometheus.Histogram // Single-prediction latency in seconds

	// Training metrics
	TrainingRunsTotal prometheus.Counter   // Total number of training runs attempted
	TrainingFailures  prometheus.Counter   // Training runs that failed outright
	ModelsDegraded    prometheus.Counter   // Base models that failed fit or scoring
	TrainingDuration  prometheus.Histogram // End-to-end training run duration in seconds

	// Ensemble state metrics
	ModelWeight      *prometheus.GaugeVec // Current ensemble weight per base model
	TrainingExamples prometheus.Gauge     // Examples consumed by the last successful run
	EngineReady      prometheus.Gauge     // 1 when a trained generation is serving
}

// New creates and registers all Prometheus metrics using the default registry.
// This is the standard way to create metrics for production use.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// This allows for isolated metric collection in tests without affecting
// the global Prometheus registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of predictions produced",
		}),
		PredictionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_errors_total",
			Help: "Total number of failed prediction calls",
		}),
		ActionableTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "actionable_predictions_total",
			Help: "Predictions whose confidence cleared the gate threshold",
		}),
		ConfidenceScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_confidence_scores",
			Help:    "Distribution of prediction confidence scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "inference_latency_seconds",
			Help:    "Single-prediction latency in seconds (end-to-end)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		TrainingRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_runs_total",
			Help: "Total number of training runs attempted",
		}),
		TrainingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_failures_total",
			Help: "Training runs that failed without installing new state",
		}),
		ModelsDegraded: factory.NewCounter(prometheus.CounterOpts{
			Name: "models_degraded_total",
			Help: "Base models excluded from a run after fit or scoring failure",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "training_duration_seconds",
			Help:    "End-to-end training run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ModelWeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "model_weight",
			Help: "Current ensemble weight per base model",
		}, []string{"model"}),
		TrainingExamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "last_training_examples",
			Help: "Examples consumed by the most recent successful training run",
		}),
		EngineReady: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_ready",
			Help: "1 when a trained generation is serving, 0 otherwise",
		}),
	}
}
