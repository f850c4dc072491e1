package eval

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"matchcast/internal/dataset"
)

// Reporter writes evaluation artifacts to an output directory.
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a reporter for the given results.
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport writes the summary text, the JSON report, and the settled
// prediction log.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return fmt.Errorf("failed to generate summary: %w", err)
	}

	if err := r.generateJSONReport(); err != nil {
		return fmt.Errorf("failed to generate JSON report: %w", err)
	}

	if err := r.generatePredictionLog(); err != nil {
		return fmt.Errorf("failed to generate prediction log: %w", err)
	}

	return nil
}

func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, "evaluation_summary.txt")
	file, err := os.Create(summaryPath)
	if err != nil {
		return err
	}
	defer file.Close()

	res := r.results

	fmt.Fprintf(file, "=== WALK-FORWARD EVALUATION SUMMARY ===\n\n")
	fmt.Fprintf(file, "Period: %s to %s\n",
		res.FirstKickoff.Format("2006-01-02"), res.LastKickoff.Format("2006-01-02"))
	fmt.Fprintf(file, "Initial Training Window: %d matches\n", res.TrainingMatches)
	fmt.Fprintf(file, "Settled Matches: %d\n", res.Matches)
	fmt.Fprintf(file, "Refits: %d\n", res.Refits)
	fmt.Fprintf(file, "Elapsed: %.1fs\n\n", res.Elapsed)

	fmt.Fprintf(file, "=== ACCURACY ===\n")
	fmt.Fprintf(file, "Overall: %.4f (%d/%d)\n", res.Accuracy, res.Correct, res.Matches)
	for c := 0; c < dataset.NumOutcomes; c++ {
		fmt.Fprintf(file, "%s: %.4f (%d matches)\n",
			outcomeLabel(dataset.Outcome(c)), res.ClassAccuracy[c], res.ClassCounts[c])
	}
	fmt.Fprintf(file, "\n")

	fmt.Fprintf(file, "=== CONFIDENCE GATE ===\n")
	fmt.Fprintf(file, "Actionable: %d (%.1f%%)\n", res.ActionableCount, res.ActionableRate*100)
	fmt.Fprintf(file, "Accuracy When Actionable: %.4f\n", res.ActionableAccuracy)
	fmt.Fprintf(file, "Gate Lift: %+.4f\n\n", res.GateLift)

	fmt.Fprintf(file, "=== CALIBRATION ===\n")
	fmt.Fprintf(file, "Brier Score: %.4f\n", res.Brier)
	fmt.Fprintf(file, "Log Loss: %.4f\n\n", res.LogLoss)

	fmt.Fprintf(file, "=== CONFUSION MATRIX (actual x predicted) ===\n")
	fmt.Fprintf(file, "%10s %8s %8s %8s\n", "", "H", "D", "A")
	for a := 0; a < dataset.NumOutcomes; a++ {
		fmt.Fprintf(file, "%10s %8d %8d %8d\n", outcomeLabel(dataset.Outcome(a)),
			res.Confusion[a][0], res.Confusion[a][1], res.Confusion[a][2])
	}
	fmt.Fprintf(file, "\n")

	fmt.Fprintf(file, "=== HOLDOUT ACCURACY PER FIT ===\n")
	for _, name := range sortedModelNames(res.HoldoutHistory) {
		fmt.Fprintf(file, "%s:", name)
		for _, acc := range res.HoldoutHistory[name] {
			fmt.Fprintf(file, " %.4f", acc)
		}
		fmt.Fprintf(file, "\n")
	}

	log.Info().Str("file", summaryPath).Msg("summary report generated")
	return nil
}

func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "evaluation_results.json")

	report := map[string]interface{}{
		"results":      r.results,
		"generated_at": time.Now(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return err
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

func (r *Reporter) generatePredictionLog() error {
	logPath := filepath.Join(r.outputPath, "prediction_log.csv")
	file, err := os.Create(logPath)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"match_id", "kickoff", "actual", "predicted", "correct",
		"p_home", "p_draw", "p_away", "confidence", "actionable", "model_version",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range r.results.Settled {
		record := []string{
			s.MatchID,
			s.Kickoff.Format(time.RFC3339),
			s.Actual.String(),
			s.Predicted.String(),
			strconv.FormatBool(s.Correct),
			strconv.FormatFloat(s.Probabilities[0], 'f', 4, 64),
			strconv.FormatFloat(s.Probabilities[1], 'f', 4, 64),
			strconv.FormatFloat(s.Probabilities[2], 'f', 4, 64),
			strconv.FormatFloat(s.Confidence, 'f', 4, 64),
			strconv.FormatBool(s.Actionable),
			s.ModelVersion,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	log.Info().Str("file", logPath).Int("predictions", len(r.results.Settled)).Msg("prediction log generated")
	return nil
}

// PrintSummary prints the headline numbers to the console.
func (r *Reporter) PrintSummary() {
	res := r.results

	fmt.Printf("\n=== WALK-FORWARD EVALUATION ===\n")
	fmt.Printf("Period: %s to %s\n",
		res.FirstKickoff.Format("2006-01-02"), res.LastKickoff.Format("2006-01-02"))
	fmt.Printf("Settled: %d matches, %d refits\n", res.Matches, res.Refits)
	fmt.Printf("Accuracy: %.4f (%d/%d)\n", res.Accuracy, res.Correct, res.Matches)
	fmt.Printf("Actionable: %.1f%% at %.4f accuracy (lift %+.4f)\n",
		res.ActionableRate*100, res.ActionableAccuracy, res.GateLift)
	fmt.Printf("Brier: %.4f  Log Loss: %.4f\n", res.Brier, res.LogLoss)
	fmt.Printf("===============================\n\n")
}

func outcomeLabel(o dataset.Outcome) string {
	switch o {
	case dataset.HomeWin:
		return "Home Win"
	case dataset.Draw:
		return "Draw"
	case dataset.AwayWin:
		return "Away Win"
	default:
		return o.String()
	}
}

func sortedModelNames(history map[string][]float64) []string {
	names := make([]string, 0, len(history))
	for name := range history {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
