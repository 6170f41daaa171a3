// Package storage provides the optional prediction history for the dropout-risk
// service. It uses BoltDB as the underlying storage engine; every completed
// prediction (successful or failed) is appended as one JSON record.
//
// Keys are "<unix nanos>_<sequence>" with both parts zero padded, so cursor
// order is chronological and time-range scans can use Seek.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"dropout-risk/internal/common"

	"go.etcd.io/bbolt"
)

const predictionsBucket = "predictions" // Bucket name for prediction records

var errStoreClosed = errors.New("store is closed")

// PredictionRecord is one stored prediction.
type PredictionRecord struct {
	ID           uint64             `json:"id"`
	RequestID    string             `json:"request_id,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
	Features     map[string]float64 `json:"features"`
	Filled       []string           `json:"filled,omitempty"`
	Label        *int               `json:"label,omitempty"`
	Probability  *float64           `json:"probability,omitempty"`
	Error        string             `json:"error,omitempty"`
	LatencyMs    float64            `json:"latency_ms"`
	ModelVersion string             `json:"model_version,omitempty"`
	Source       string             `json:"source,omitempty"` // "form" or "api"
}

// Succeeded reports whether the record holds a label.
func (r PredictionRecord) Succeeded() bool { return r.Error == "" && r.Label != nil }

// Store provides persistent storage for prediction history using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New opens (or creates) the history database inside dataPath.
// The directory must already exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, common.HistoryDBName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Record appends a prediction. A zero Timestamp is replaced with the current
// time; ID is assigned from the bucket sequence.
func (s *Store) Record(rec PredictionRecord) (uint64, error) {
	if s.db == nil {
		return 0, errStoreClosed
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		rec.ID = seq

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal prediction: %w", err)
		}
		return b.Put(recordKey(rec.Timestamp, seq), data)
	})
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(n int) ([]PredictionRecord, error) {
	if s.db == nil {
		return nil, errStoreClosed
	}
	if n <= 0 {
		return []PredictionRecord{}, nil
	}

	records := make([]PredictionRecord, 0, n)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(records) < n; k, v = c.Prev() {
			var rec PredictionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // Skip malformed records
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// InRange returns records with start <= Timestamp <= end, oldest first.
func (s *Store) InRange(start, end time.Time) ([]PredictionRecord, error) {
	if s.db == nil {
		return nil, errStoreClosed
	}

	var records []PredictionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()

		startKey := timePrefix(start)
		endKey := timePrefix(end)

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k[:len(endKey)], endKey) <= 0; k, v = c.Next() {
			var rec PredictionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	if s.db == nil {
		return 0, errStoreClosed
	}
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(predictionsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Prune deletes all but the newest keep records and returns how many were removed.
func (s *Store) Prune(keep int) (int, error) {
	if s.db == nil {
		return 0, errStoreClosed
	}
	if keep < 0 {
		keep = 0
	}

	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))
		c := b.Cursor()

		seen := 0
		var stale [][]byte
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			seen++
			if seen > keep {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func timePrefix(t time.Time) []byte {
	return []byte(fmt.Sprintf("%020d", t.UnixNano()))
}

func recordKey(t time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d_%020d", t.UnixNano(), seq))
}
