package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchcast/internal/dataset"
	"matchcast/internal/model"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults pass", func(c *Config) {}, ""},
		{"threshold above one", func(c *Config) { c.ConfidenceThreshold = 1.01 }, "confidence threshold"},
		{"threshold negative", func(c *Config) { c.ConfidenceThreshold = -0.1 }, "confidence threshold"},
		{"zero sharpness", func(c *Config) { c.SharpnessExponent = 0 }, "sharpness exponent"},
		{"weight floor above one", func(c *Config) { c.WeightFloor = 1.5 }, "weight floor"},
		{"holdout fraction one", func(c *Config) { c.HoldoutFraction = 1 }, "holdout fraction"},
		{"one training example", func(c *Config) { c.MinTrainingExamples = 1 }, "training examples"},
		{"no models", func(c *Config) { c.Models = nil }, "at least one model"},
		{"duplicate model", func(c *Config) { c.Models = []string{"logit", "logit"} }, "enabled twice"},
		{"unknown model", func(c *Config) { c.Models = []string{"logit", "oracle"} }, "unknown model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTrainingRunReportLookup(t *testing.T) {
	run := &TrainingRun{
		Models: []ModelReport{
			{Name: "logit", HoldoutAccuracy: 0.51, Weight: 0.6},
			{Name: "gbdt", Degraded: true, Error: "fit: synthetic"},
		},
	}

	report := run.Report("logit")
	require.NotNil(t, report)
	assert.Equal(t, 0.51, report.HoldoutAccuracy)

	// The pointer aliases the slice so callers see weight updates.
	report.Weight = 0.7
	assert.Equal(t, 0.7, run.Models[0].Weight)

	assert.Nil(t, run.Report("poisson"))
	assert.Equal(t, []string{"gbdt"}, run.DegradedModels())
}

func TestTrainingRunJSONRoundTrip(t *testing.T) {
	schema, err := dataset.NewSchema([]string{model.FeatHomeAttack, "form_diff"})
	require.NoError(t, err)

	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	run := &TrainingRun{
		ID:           "2a1f0c9e-0000-0000-0000-000000000000",
		Version:      "20250301-090000-2a1f0c9e",
		StartedAt:    started,
		CompletedAt:  started.Add(3 * time.Second),
		Examples:     120,
		TrainCount:   96,
		HoldoutCount: 24,
		Models: []ModelReport{
			{Name: "logit", HoldoutAccuracy: 0.54, Weight: 1},
		},
		Weights: map[string]float64{"logit": 1},
		Config:  DefaultConfig(),
		Schema:  schema,
	}

	data, err := json.Marshal(run)
	require.NoError(t, err)

	var decoded TrainingRun
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, run.Version, decoded.Version)
	assert.Equal(t, run.Examples, decoded.Examples)
	assert.Equal(t, run.Weights, decoded.Weights)
	assert.Equal(t, run.Config.Models, decoded.Config.Models)
	require.NotNil(t, decoded.Schema)
	assert.Equal(t, schema.Names(), decoded.Schema.Names())
	assert.True(t, decoded.StartedAt.Equal(run.StartedAt))
}

func TestPredictionRecordJSON(t *testing.T) {
	record := &PredictionRecord{
		ID:            "7c9e6679-0000-0000-0000-000000000000",
		MatchID:       "20250816_Arsenal_Chelsea",
		ModelVersion:  "20250301-090000-2a1f0c9e",
		Probabilities: model.ProbabilityVector{0.5, 0.3, 0.2},
		Outcome:       dataset.HomeWin,
		Confidence:    0.2,
		Actionable:    false,
		CreatedAt:     time.Date(2025, 8, 15, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(record)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"match_id":"20250816_Arsenal_Chelsea"`)
	assert.NotContains(t, string(data), "untrained", "zero untrained flag should be omitted")

	var decoded PredictionRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, record.Probabilities, decoded.Probabilities)
	assert.Equal(t, record.Outcome, decoded.Outcome)
}
