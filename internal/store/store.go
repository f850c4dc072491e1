// Package store provides persistent storage for the prediction engine.
// It uses BoltDB as the underlying storage engine to keep completed training
// runs, their serialized model bundles, and a log of emitted predictions.
//
// Runs are never overwritten: each version gets its own entry and the full
// history stays queryable as an audit trail. A run and its bundles are
// written in a single transaction, so a reader never observes a run whose
// models are missing.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"matchcast/internal/engine"
)

const (
	runsBucket   = "runs"   // Bucket for TrainingRun metadata, keyed by version
	modelsBucket = "models" // Bucket for model bundles, keyed by model_version
	latestBucket = "latest" // Single-entry bucket pointing at the newest version

	latestKey = "version"
	dbFile    = "matchcast.db"
)

// Store persists training runs and model bundles using BoltDB. All methods
// are safe for concurrent use; BoltDB serializes writers internally.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database under dataPath and ensures all buckets
// exist. The directory is created when missing. Returns an error if the
// database cannot be opened or buckets cannot be created.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{runsBucket, modelsBucket, latestBucket, predictionsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully. It should be called when
// the store is no longer needed to ensure proper cleanup of database
// resources.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveRun stores a completed training run together with its model bundles
// and advances the latest pointer, all in one transaction. Bundle keys use
// the format "model_version" so every version keeps its own copies.
func (s *Store) SaveRun(run *engine.TrainingRun, bundles map[string][]byte) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.Version, err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(runsBucket)).Put([]byte(run.Version), data); err != nil {
			return fmt.Errorf("store run %s: %w", run.Version, err)
		}

		mb := tx.Bucket([]byte(modelsBucket))
		for name, blob := range bundles {
			key := fmt.Sprintf("%s_%s", name, run.Version)
			if err := mb.Put([]byte(key), blob); err != nil {
				return fmt.Errorf("store bundle %s: %w", key, err)
			}
		}

		return tx.Bucket([]byte(latestBucket)).Put([]byte(latestKey), []byte(run.Version))
	})
}

// LoadRun retrieves one training run and the model bundles saved with it.
// Every model named in the run's weight table must still have its bundle;
// a missing bundle is reported as an error rather than a partial result.
func (s *Store) LoadRun(version string) (*engine.TrainingRun, map[string][]byte, error) {
	var run *engine.TrainingRun
	bundles := make(map[string][]byte)

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(version))
		if data == nil {
			return fmt.Errorf("run %s not found", version)
		}
		run = &engine.TrainingRun{}
		if err := json.Unmarshal(data, run); err != nil {
			return fmt.Errorf("unmarshal run %s: %w", version, err)
		}

		mb := tx.Bucket([]byte(modelsBucket))
		for name := range run.Weights {
			blob := mb.Get([]byte(name + "_" + version))
			if blob == nil {
				return fmt.Errorf("run %s is missing the bundle for model %s", version, name)
			}
			bundles[name] = append([]byte(nil), blob...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return run, bundles, nil
}

// LoadLatest retrieves the newest persisted run and its bundles. An empty
// store returns nil without an error; the caller decides whether that is
// fatal.
func (s *Store) LoadLatest() (*engine.TrainingRun, map[string][]byte, error) {
	var version string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(latestBucket)).Get([]byte(latestKey)); v != nil {
			version = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if version == "" {
		return nil, nil, nil
	}
	return s.LoadRun(version)
}

// ListRuns returns all persisted runs, newest first. Version strings start
// with a UTC timestamp, so key order in the bucket is chronological.
func (s *Store) ListRuns() ([]*engine.TrainingRun, error) {
	var runs []*engine.TrainingRun

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			run := &engine.TrainingRun{}
			if err := json.Unmarshal(v, run); err != nil {
				return fmt.Errorf("unmarshal run %s: %w", k, err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
