package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Feature table CSV layout: match_id, kickoff, label, then one column per
// feature in schema order.
const tableMetaColumns = 3

var kickoffFormats = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseKickoff(s string) (time.Time, error) {
	for _, layout := range kickoffFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized kickoff time %q", s)
}

// ReadTableCSV loads a feature table from a CSV file. Malformed rows are
// errors, not skips.
func ReadTableCSV(filePath string) (*Table, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open table file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read table header: %w", err)
	}
	if len(header) < tableMetaColumns+1 {
		return nil, fmt.Errorf("table header needs match_id, kickoff, label and at least one feature, got %d columns", len(header))
	}
	if header[0] != "match_id" || header[1] != "kickoff" || header[2] != "label" {
		return nil, fmt.Errorf("table header must start with match_id,kickoff,label, got %v", header[:tableMetaColumns])
	}

	schema, err := NewSchema(header[tableMetaColumns:])
	if err != nil {
		return nil, fmt.Errorf("bad feature columns: %w", err)
	}

	table := &Table{Schema: schema}
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", row, len(header), len(record))
		}

		kickoff, err := parseKickoff(record[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		label, err := ParseOutcome(record[2])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		values := make([]float64, schema.Len())
		for i := range values {
			v, err := strconv.ParseFloat(record[tableMetaColumns+i], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: feature %q: %w", row, schema.names[i], err)
			}
			values[i] = v
		}

		table.Examples = append(table.Examples, LabeledExample{
			FeatureVector: FeatureVector{MatchID: record[0], Kickoff: kickoff, Values: values},
			Label:         label,
		})
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("file", filePath).
		Int("examples", table.Len()).
		Int("features", schema.Len()).
		Msg("Feature table loaded")

	return table, nil
}

// WriteTableCSV writes a feature table in the layout ReadTableCSV expects.
func WriteTableCSV(filePath string, table *Table) error {
	if err := table.Validate(); err != nil {
		return err
	}

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create table file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := append([]string{"match_id", "kickoff", "label"}, table.Schema.Names()...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write table header: %w", err)
	}

	for _, ex := range table.Examples {
		record := make([]string, 0, len(header))
		record = append(record, ex.MatchID, ex.Kickoff.Format(time.RFC3339), ex.Label.String())
		for _, v := range ex.Values {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write table row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
