package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var trainFlags struct {
	matchesPath string
	tablePath   string
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the ensemble on historical matches",
	Long: `Train fits every configured model variant on a chronological split of
the input, weights the survivors by holdout accuracy, persists the run,
and installs it as the serving state.

The input is either raw results (--matches, football-data column layout)
or a pre-built feature table (--table).`,
	RunE: runTrain,
}

func init() {
	f := trainCmd.Flags()
	f.StringVar(&trainFlags.matchesPath, "matches", "", "CSV of finished matches (Date,HomeTeam,AwayTeam,FTHG,FTAG,...)")
	f.StringVar(&trainFlags.tablePath, "table", "", "CSV of a pre-built feature table")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	table, err := loadTable(trainFlags.matchesPath, trainFlags.tablePath)
	if err != nil {
		return err
	}

	eng, st, err := openEngine()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()
	serveMetrics(ctx)

	run, err := eng.Train(ctx, table)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Training run %s\n", run.Version)
	fmt.Fprintf(out, "Examples: %d (%d train, %d holdout)\n", run.Examples, run.TrainCount, run.HoldoutCount)
	fmt.Fprintf(out, "%-10s %10s %10s  %s\n", "MODEL", "ACCURACY", "WEIGHT", "STATUS")
	for _, report := range run.Models {
		status := "ok"
		if report.Degraded {
			status = "degraded: " + report.Error
		}
		fmt.Fprintf(out, "%-10s %10.4f %10.4f  %s\n", report.Name, report.HoldoutAccuracy, report.Weight, status)
	}
	return nil
}
