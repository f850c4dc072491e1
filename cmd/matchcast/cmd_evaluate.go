package main

import (
	"github.com/spf13/cobra"

	"matchcast/internal/engine"
	"matchcast/internal/eval"
)

var evaluateFlags struct {
	matchesPath string
	tablePath   string
	outputPath  string
	initial     float64
	refitEvery  int
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Walk-forward evaluation over historical matches",
	Long: `Evaluate trains on an initial window of the input, predicts every later
match before seeing its result, refits on a fixed schedule, and writes
accuracy, calibration, and gate-lift reports to the output directory.

Evaluation runs on a throwaway engine and never touches persisted state.`,
	RunE: runEvaluate,
}

func init() {
	f := evaluateCmd.Flags()
	f.StringVar(&evaluateFlags.matchesPath, "matches", "", "CSV of finished matches (football-data column layout)")
	f.StringVar(&evaluateFlags.tablePath, "table", "", "CSV of a pre-built feature table")
	f.StringVar(&evaluateFlags.outputPath, "output", "", "Report directory (default: output_path from config)")
	f.Float64Var(&evaluateFlags.initial, "initial", 0, "Initial training fraction (default: from config)")
	f.IntVar(&evaluateFlags.refitEvery, "refit", -1, "Matches between refits, 0 disables (default: from config)")
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	table, err := loadTable(evaluateFlags.matchesPath, evaluateFlags.tablePath)
	if err != nil {
		return err
	}

	opts := eval.Options{
		InitialFraction: settings.InitialFraction,
		RefitEvery:      settings.RefitEvery,
	}
	if evaluateFlags.initial > 0 {
		opts.InitialFraction = evaluateFlags.initial
	}
	if evaluateFlags.refitEvery >= 0 {
		opts.RefitEvery = evaluateFlags.refitEvery
	}
	outputPath := evaluateFlags.outputPath
	if outputPath == "" {
		outputPath = settings.OutputPath
	}

	eng, err := engine.New(settings.Engine)
	if err != nil {
		return err
	}
	ev, err := eval.NewEngine(eng, opts)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	serveMetrics(ctx)

	results, err := ev.Run(ctx, table)
	if err != nil {
		return err
	}

	reporter := eval.NewReporter(results, outputPath)
	if err := reporter.GenerateReport(); err != nil {
		return err
	}
	reporter.PrintSummary()
	return nil
}
