package features

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Result files use the common football-data column layout: Date, HomeTeam,
// AwayTeam, FTHG, FTAG, with optional Time, HS, and AS columns. Extra
// columns are ignored.
var resultDateFormats = []string{"02/01/2006", "02/01/06", "2006-01-02"}

func parseResultDate(date, clock string) (time.Time, error) {
	for _, layout := range resultDateFormats {
		day, err := time.Parse(layout, date)
		if err != nil {
			continue
		}
		if clock == "" {
			return day, nil
		}
		t, err := time.Parse("15:04", clock)
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognized kickoff time %q", clock)
		}
		return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", date)
}

// ReadResultsCSV loads finished matches from a CSV file. Malformed rows are
// errors, not skips; a history with silent holes poisons every rate built
// on it.
func ReadResultsCSV(filePath string) ([]MatchResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read results header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"Date", "HomeTeam", "AwayTeam", "FTHG", "FTAG"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("results header is missing the %s column", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var results []MatchResult
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

		home := field(record, "HomeTeam")
		away := field(record, "AwayTeam")
		homeGoals, err := strconv.Atoi(field(record, "FTHG"))
		if err != nil {
			return nil, fmt.Errorf("row %d: home goals: %w", row, err)
		}
		awayGoals, err := strconv.Atoi(field(record, "FTAG"))
		if err != nil {
			return nil, fmt.Errorf("row %d: away goals: %w", row, err)
		}

		result := MatchResult{
			MatchID:   FixtureID(home, away, kickoff),
			Kickoff:   kickoff,
			HomeTeam:  home,
			AwayTeam:  away,
			HomeGoals: homeGoals,
			AwayGoals: awayGoals,
		}
		if s := field(record, "HS"); s != "" {
			if result.HomeShots, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("row %d: home shots: %w", row, err)
			}
		}
		if s := field(record, "AS"); s != "" {
			if result.AwayShots, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("row %d: away shots: %w", row, err)
			}
		}

		results = append(results, result)
	}

	log.Info().
		Str("file", filePath).
		Int("matches", len(results)).
		Msg("Match results loaded")

	return results, nil
}
