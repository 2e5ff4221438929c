// Package history keeps a summary of every finished run in a local bbolt
// database so runs can be listed and compared later.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/threshold"
)

var (
	bucketRuns = []byte("runs")
	bucketIDs  = []byte("ids")
)

// ErrNotFound is returned when no run with the given id is stored.
var ErrNotFound = errors.New("history: run not found")

// Entry is the stored summary of one run.
type Entry struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	Duration    time.Duration `json:"duration"`
	Passed      bool          `json:"passed"`
	Aborted     bool          `json:"aborted"`
	AbortReason string        `json:"abortReason,omitempty"`

	Requests     int64   `json:"requests"`
	RPS          float64 `json:"rps"`
	ErrorRate    float64 `json:"errorRate"`
	ChecksRate   float64 `json:"checksRate"`
	Iterations   int64   `json:"iterations"`
	LatencyAvgMs float64 `json:"latencyAvgMs"`
	LatencyP95Ms float64 `json:"latencyP95Ms"`
	LatencyP99Ms float64 `json:"latencyP99Ms"`

	Thresholds []threshold.Result `json:"thresholds,omitempty"`
}

// EntryFrom summarises a verdict.
func EntryFrom(v *engine.Verdict) Entry {
	e := Entry{
		RunID:       v.RunID,
		Name:        v.Name,
		StartTime:   v.StartTime,
		Duration:    v.Duration,
		Passed:      v.Passed,
		Aborted:     v.Aborted,
		AbortReason: v.AbortReason,
		Thresholds:  v.Results,
	}
	if s, ok := v.Metric(metrics.HTTPReqsName); ok {
		e.Requests = int64(s.Sum)
		e.RPS = s.Rate
	}
	if s, ok := v.Metric(metrics.HTTPReqFailedName); ok {
		e.ErrorRate = s.Rate
	}
	if s, ok := v.Metric(metrics.ChecksName); ok {
		e.ChecksRate = s.Rate
	}
	if s, ok := v.Metric(metrics.IterationsName); ok {
		e.Iterations = int64(s.Sum)
	}
	if s, ok := v.Metric(metrics.HTTPReqDurationName); ok {
		e.LatencyAvgMs = s.Avg
		e.LatencyP95Ms = s.P95
		e.LatencyP99Ms = s.P99
	}
	return e
}

// Store is a bbolt-backed run history. It is safe for concurrent use.
type Store struct {
	db   *bbolt.DB
	path string
}

// DefaultPath returns ~/.rampvu/history.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".rampvu", "history.db"), nil
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketIDs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// runKey orders runs by start time; the run id breaks ties.
func runKey(e Entry) []byte {
	key := make([]byte, 8, 8+len(e.RunID))
	binary.BigEndian.PutUint64(key, uint64(e.StartTime.UnixNano()))
	return append(key, e.RunID...)
}

// Save stores e, replacing any entry with the same run id.
func (s *Store) Save(e Entry) error {
	if e.RunID == "" {
		return errors.New("history: entry has no run id")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		runs, ids := tx.Bucket(bucketRuns), tx.Bucket(bucketIDs)

		if old := ids.Get([]byte(e.RunID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return err
			}
		}
		key := runKey(e)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		return ids.Put([]byte(e.RunID), key)
	})
}

// Flush implements engine.Sink.
func (s *Store) Flush(_ context.Context, v *engine.Verdict) error {
	return s.Save(EntryFrom(v))
}

// List returns up to limit entries, newest first. A limit of 0 returns
// every entry. When name is not empty only runs with that name are listed.
func (s *Store) List(name string, limit int) ([]Entry, error) {
	var entries []Entry

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode run %x: %w", k, err)
			}
			if name != "" && e.Name != name {
				continue
			}
			entries = append(entries, e)
			if limit > 0 && len(entries) == limit {
				break
			}
		}
		return nil
	})
	return entries, err
}

// Get returns the entry for a run id.
func (s *Store) Get(runID string) (Entry, error) {
	var e Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketIDs).Get([]byte(runID))
		if key == nil {
			return ErrNotFound
		}
		data := tx.Bucket(bucketRuns).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &e)
	})
	return e, err
}

// Delete removes a run. Deleting an unknown run returns ErrNotFound.
func (s *Store) Delete(runID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket(bucketIDs)
		key := ids.Get([]byte(runID))
		if key == nil {
			return ErrNotFound
		}
		if err := tx.Bucket(bucketRuns).Delete(key); err != nil {
			return err
		}
		return ids.Delete([]byte(runID))
	})
}

// Prune keeps the newest keep entries and deletes the rest. It returns
// the number of deleted entries.
func (s *Store) Prune(keep int) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		runs, ids := tx.Bucket(bucketRuns), tx.Bucket(bucketIDs)

		var stale [][]byte
		seen := 0
		c := runs.Cursor()
		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			seen++
			if seen > keep {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := runs.Delete(k); err != nil {
				return err
			}
			if err := ids.Delete(k[8:]); err != nil {
				return err
			}
		}
		deleted = len(stale)
		return nil
	})
	return deleted, err
}
