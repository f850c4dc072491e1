package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"matchcast/internal/engine"
)

const predictionsBucket = "predictions"

// StorePrediction appends one prediction record to the log. Records are
// keyed by creation time so range queries come back in emission order; the
// match identifier in the key keeps two predictions made in the same
// nanosecond from colliding.
func (s *Store) StorePrediction(record *engine.PredictionRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal prediction %s: %w", record.ID, err)
		}

		key := fmt.Sprintf("%020d_%s", record.CreatedAt.UnixNano(), record.MatchID)
		return b.Put([]byte(key), data)
	})
}

// PredictionsInRange returns logged predictions created within the time
// range, oldest first. Both bounds are inclusive.
func (s *Store) PredictionsInRange(start, end time.Time) ([]engine.PredictionRecord, error) {
	var records []engine.PredictionRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()

		startKey := []byte(fmt.Sprintf("%020d", start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%020d_\xff", end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			var record engine.PredictionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}

// PredictionsForMatch returns every logged prediction for one match, oldest
// first. A match can be predicted more than once as the engine is retrained.
func (s *Store) PredictionsForMatch(matchID string) ([]engine.PredictionRecord, error) {
	var records []engine.PredictionRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()

		suffix := []byte("_" + matchID)
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !bytes.HasSuffix(k, suffix) {
				continue
			}
			var record engine.PredictionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			records = append(records, record)
		}
		return nil
	})

	return records, err
}
