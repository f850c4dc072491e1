package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"matchcast/internal/engine"
)

type Settings struct {
	Engine engine.Config

	FormWindow  int
	MinMatches  int
	FormMatches int

	InitialFraction float64
	RefitEvery      int

	DataPath    string
	OutputPath  string
	ResultsPath string
	MetricsPort int
	LogLevel    string
}

type ConfigFile struct {
	Engine engine.Config `yaml:"engine"`

	Features struct {
		FormWindow  int `yaml:"form_window"`
		MinMatches  int `yaml:"min_matches"`
		FormMatches int `yaml:"form_matches"`
	} `yaml:"features"`

	Evaluation struct {
		InitialFraction float64 `yaml:"initial_fraction"`
		// Pointer so an explicit zero (refitting disabled) survives the
		// merge with defaults.
		RefitEvery *int `yaml:"refit_every"`
	} `yaml:"evaluation"`

	System struct {
		DataPath    string `yaml:"data_path"`
		OutputPath  string `yaml:"output_path"`
		ResultsPath string `yaml:"results_path"`
		MetricsPort int    `yaml:"metrics_port"`
		LogLevel    string `yaml:"log_level"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	refitEvery := -1
	if config.Evaluation.RefitEvery != nil {
		refitEvery = *config.Evaluation.RefitEvery
	}

	settings := Settings{
		Engine: engine.Config{
			ConfidenceThreshold: getFloatFromEnvOrConfig("CONFIDENCE_THRESHOLD", config.Engine.ConfidenceThreshold),
			SharpnessExponent:   getFloatFromEnvOrConfig("SHARPNESS_EXPONENT", config.Engine.SharpnessExponent),
			WeightFloor:         getFloatFromEnvOrConfig("WEIGHT_FLOOR", config.Engine.WeightFloor),
			HoldoutFraction:     getFloatFromEnvOrConfig("HOLDOUT_FRACTION", config.Engine.HoldoutFraction),
			MinTrainingExamples: getIntFromEnvOrConfig("MIN_TRAINING_EXAMPLES", config.Engine.MinTrainingExamples),
			Models:              getModelsFromEnvOrConfig(config.Engine.Models),
		},
		FormWindow:      getIntFromEnvOrConfig("FORM_WINDOW", config.Features.FormWindow),
		MinMatches:      getIntFromEnvOrConfig("MIN_MATCHES", config.Features.MinMatches),
		FormMatches:     getIntFromEnvOrConfig("FORM_MATCHES", config.Features.FormMatches),
		InitialFraction: getFloatFromEnvOrConfig("INITIAL_FRACTION", config.Evaluation.InitialFraction),
		RefitEvery:      getIntFromEnvOrConfig("REFIT_EVERY", refitEvery),
		DataPath:        getEnvOrDefault("DATA_PATH", config.System.DataPath),
		OutputPath:      getEnvOrDefault("OUTPUT_PATH", config.System.OutputPath),
		ResultsPath:     getEnvOrDefault("RESULTS_PATH", config.System.ResultsPath),
		MetricsPort:     getIntFromEnvOrConfig("METRICS_PORT", config.System.MetricsPort),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", config.System.LogLevel),
	}

	applyDefaults(&settings)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Engine: engine.Config{
			ConfidenceThreshold: getFloatOrDefault("CONFIDENCE_THRESHOLD", 0),
			SharpnessExponent:   getFloatOrDefault("SHARPNESS_EXPONENT", 0),
			WeightFloor:         getFloatOrDefault("WEIGHT_FLOOR", 0),
			HoldoutFraction:     getFloatOrDefault("HOLDOUT_FRACTION", 0),
			MinTrainingExamples: getIntOrDefault("MIN_TRAINING_EXAMPLES", 0),
			Models:              splitOrDefault(os.Getenv("MODELS"), nil),
		},
		FormWindow:      getIntOrDefault("FORM_WINDOW", 0),
		MinMatches:      getIntOrDefault("MIN_MATCHES", 0),
		FormMatches:     getIntOrDefault("FORM_MATCHES", 0),
		InitialFraction: getFloatOrDefault("INITIAL_FRACTION", 0),
		RefitEvery:      getIntOrDefault("REFIT_EVERY", -1),
		DataPath:        os.Getenv("DATA_PATH"),
		OutputPath:      os.Getenv("OUTPUT_PATH"),
		ResultsPath:     os.Getenv("RESULTS_PATH"), // optional
		MetricsPort:     getIntOrDefault("METRICS_PORT", 0),
		LogLevel:        os.Getenv("LOG_LEVEL"),
	}

	applyDefaults(&settings)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// applyDefaults fills every unset knob so a partial YAML file or a bare
// environment still yields the stock configuration.
func applyDefaults(s *Settings) {
	stock := engine.DefaultConfig()
	if s.Engine.ConfidenceThreshold == 0 {
		s.Engine.ConfidenceThreshold = stock.ConfidenceThreshold
	}
	if s.Engine.SharpnessExponent == 0 {
		s.Engine.SharpnessExponent = stock.SharpnessExponent
	}
	if s.Engine.WeightFloor == 0 {
		s.Engine.WeightFloor = stock.WeightFloor
	}
	if s.Engine.HoldoutFraction == 0 {
		s.Engine.HoldoutFraction = stock.HoldoutFraction
	}
	if s.Engine.MinTrainingExamples == 0 {
		s.Engine.MinTrainingExamples = stock.MinTrainingExamples
	}
	if len(s.Engine.Models) == 0 {
		s.Engine.Models = stock.Models
	}

	if s.FormWindow == 0 {
		s.FormWindow = 10
	}
	if s.MinMatches == 0 {
		s.MinMatches = 3
	}
	if s.FormMatches == 0 {
		s.FormMatches = 5
	}
	if s.InitialFraction == 0 {
		s.InitialFraction = 0.6
	}
	if s.RefitEvery < 0 {
		s.RefitEvery = 50
	}
	if s.DataPath == "" {
		s.DataPath = "data"
	}
	if s.OutputPath == "" {
		s.OutputPath = "reports"
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func getModelsFromEnvOrConfig(configModels []string) []string {
	if env := os.Getenv("MODELS"); env != "" {
		return splitOrDefault(env, nil)
	}
	return configModels
}

func getIntFromEnvOrConfig(key string, configValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	return configValue
}

func getFloatFromEnvOrConfig(key string, configValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings checks the ambient knobs and delegates the engine knobs
// to the engine's own config validation.
func validateSettings(settings *Settings) error {
	if err := settings.Engine.Validate(); err != nil {
		return err
	}

	if settings.FormWindow < 1 || settings.FormWindow > 200 {
		return fmt.Errorf("form window must be between 1 and 200 matches, got %d", settings.FormWindow)
	}
	if settings.MinMatches < 1 || settings.MinMatches > settings.FormWindow {
		return fmt.Errorf("min matches must be between 1 and the form window (%d), got %d", settings.FormWindow, settings.MinMatches)
	}
	if settings.FormMatches < 1 || settings.FormMatches > 50 {
		return fmt.Errorf("form matches must be between 1 and 50, got %d", settings.FormMatches)
	}

	if settings.InitialFraction <= 0 || settings.InitialFraction >= 1 {
		return fmt.Errorf("initial fraction must be between 0 and 1 exclusive, got %f", settings.InitialFraction)
	}
	if settings.RefitEvery < 0 {
		return fmt.Errorf("refit interval must not be negative, got %d", settings.RefitEvery)
	}

	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.MetricsPort != 0 && (settings.MetricsPort < 1024 || settings.MetricsPort > 65535) {
		return fmt.Errorf("metrics port must be 0 (disabled) or between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("unknown log level %q", settings.LogLevel)
	}

	return nil
}
