package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"matchcast/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List persisted training runs, newest first",
	RunE:  runRuns,
}

func runRuns(cmd *cobra.Command, _ []string) error {
	st, err := store.New(settings.DataPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	runs, err := st.ListRuns()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No training runs persisted yet.")
		return nil
	}

	fmt.Fprintf(out, "%-26s %-20s %9s  %s\n", "VERSION", "COMPLETED", "EXAMPLES", "WEIGHTS")
	for _, run := range runs {
		names := make([]string, 0, len(run.Weights))
		for name := range run.Weights {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%.3f", name, run.Weights[name]))
		}
		fmt.Fprintf(out, "%-26s %-20s %9d  %s\n",
			run.Version,
			run.CompletedAt.Format("2006-01-02 15:04:05"),
			run.Examples,
			strings.Join(parts, " "))
	}
	return nil
}
