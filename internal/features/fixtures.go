package features

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"matchcast/internal/dataset"
)

// ReadFixturesCSV loads upcoming matches from a CSV file with Date,
// HomeTeam, and AwayTeam columns plus an optional Time column, and turns
// each row into a feature vector using the builder's current team state.
// The same date layouts as the results loader apply.
func ReadFixturesCSV(filePath string, builder *Builder) ([]dataset.FeatureVector, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"Date", "HomeTeam", "AwayTeam"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("fixtures header is missing the %s column", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var fixtures []dataset.FeatureVector
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		kickoff, err := parseResultDate(field(record, "Date"), field(record, "Time"))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		fv, err := builder.Fixture(field(record, "HomeTeam"), field(record, "AwayTeam"), kickoff)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		fixtures = append(fixtures, fv)
	}

	log.Info().
		Str("file", filePath).
		Int("fixtures", len(fixtures)).
		Msg("Fixtures loaded")

	return fixtures, nil
}
