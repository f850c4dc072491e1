package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"matchcast/internal/engine"
	"matchcast/internal/features"
)

var predictFlags struct {
	fixturesPath string
	matchesPath  string
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict upcoming fixtures with the persisted ensemble",
	Long: `Predict loads the latest persisted training run, rebuilds team form from
historical results, and prints outcome probabilities for every fixture.

Fixture features are computed from results strictly before each kickoff,
so the history file must cover the teams' recent matches.`,
	RunE: runPredict,
}

func init() {
	f := predictCmd.Flags()
	f.StringVar(&predictFlags.fixturesPath, "fixtures", "", "CSV of upcoming fixtures (Date,HomeTeam,AwayTeam)")
	f.StringVar(&predictFlags.matchesPath, "matches", "", "CSV of finished matches for team form (default: results_path from config)")

	_ = predictCmd.MarkFlagRequired("fixtures")
}

func runPredict(cmd *cobra.Command, _ []string) error {
	matchesPath := predictFlags.matchesPath
	if matchesPath == "" {
		matchesPath = settings.ResultsPath
	}
	if matchesPath == "" {
		return fmt.Errorf("historical results are required to build fixture features: pass --matches or set results_path")
	}

	results, err := features.ReadResultsCSV(matchesPath)
	if err != nil {
		return err
	}
	builder := newBuilder()
	if _, err := builder.Build(results); err != nil {
		return err
	}

	fixtures, err := features.ReadFixturesCSV(predictFlags.fixturesPath, builder)
	if err != nil {
		return err
	}
	if len(fixtures) == 0 {
		return fmt.Errorf("no fixtures in %s", predictFlags.fixturesPath)
	}

	eng, st, err := openEngine()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := eng.LoadLatest(ctx); err != nil {
		if errors.Is(err, engine.ErrNoPersistedState) {
			return fmt.Errorf("no trained state found in %s: run 'matchcast train' first", settings.DataPath)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Model version %s\n", eng.Version())
	fmt.Fprintf(out, "%-28s %6s %6s %6s  %-4s %10s  %s\n", "MATCH", "HOME", "DRAW", "AWAY", "PICK", "CONFIDENCE", "ACTIONABLE")

	for _, item := range eng.PredictBatch(ctx, fixtures) {
		if item.Err != nil {
			fmt.Fprintf(out, "%-28s error: %v\n", fixtures[item.Index].MatchID, item.Err)
			continue
		}
		record := item.Record
		fmt.Fprintf(out, "%-28s %6.3f %6.3f %6.3f  %-4s %10.3f  %t\n",
			record.MatchID,
			record.Probabilities[0], record.Probabilities[1], record.Probabilities[2],
			record.Outcome, record.Confidence, record.Actionable)

		if err := st.StorePrediction(record); err != nil {
			log.Warn().Err(err).Str("match", record.MatchID).Msg("failed to log prediction")
		}
	}
	return nil
}
