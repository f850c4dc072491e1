// matchcast is the ensemble match-outcome predictor CLI: train models on
// historical results, predict upcoming fixtures, evaluate walk-forward, and
// inspect persisted training runs.
//
// Usage:
//
//	matchcast train    --matches results.csv | --table features.csv
//	matchcast predict  --fixtures fixtures.csv [--matches results.csv]
//	matchcast evaluate --matches results.csv [--output reports/]
//	matchcast runs
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
