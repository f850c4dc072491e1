package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"matchcast/internal/cfg"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
}

// settings is loaded once before any subcommand runs.
var settings cfg.Settings

var rootCmd = &cobra.Command{
	Use:   "matchcast",
	Short: "Ensemble football match outcome prediction",
	Long: "Matchcast trains an ensemble of outcome models on historical match\n" +
		"results, serves calibrated home/draw/away probabilities for upcoming\n" +
		"fixtures, and evaluates the ensemble walk-forward.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.configPath, "config", "", "Path to YAML config file (default: $CONFIG_FILE)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.Version = version
}

// setup loads .env, the configuration, and the logger before every command.
func setup(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	if rootFlags.configPath != "" {
		if err := os.Setenv("CONFIG_FILE", rootFlags.configPath); err != nil {
			return fmt.Errorf("set CONFIG_FILE: %w", err)
		}
	}

	var err error
	settings, err = cfg.Load()
	if err != nil {
		return err
	}

	levelName := settings.LogLevel
	if rootFlags.logLevel != "" {
		levelName = rootFlags.logLevel
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("unknown log level %q", levelName)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	return nil
}
