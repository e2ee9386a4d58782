package learning

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketMetrics = []byte("metrics")
	bucketRecords = []byte("records")
)

// Store persists per-task-type aggregates in a bbolt database, mirroring a
// small in-memory read cache the way the orchestrator's workflow store does.
type Store struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	cache  map[string]Metrics
	window time.Duration
}

// Open opens (creating if absent) a bbolt-backed learning store at dbPath,
// retaining records for window before a maintenance() purge drops them.
func Open(dbPath string, window time.Duration) (*Store, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open learning store: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketMetrics); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init learning buckets: %w", err)
	}

	s := &Store{db: db, cache: make(map[string]Metrics), window: window}
	if err := s.warmCache(); err != nil {
		slog.Warn("learning store cache warm failed, starting cold", "error", err)
	}
	return s, nil
}

func (s *Store) warmCache() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMetrics)
		return b.ForEach(func(k, v []byte) error {
			var m Metrics
			if err := json.Unmarshal(v, &m); err != nil {
				// a corrupted snapshot must not prevent other types loading
				slog.Warn("corrupted learning snapshot, skipping", "task_type", string(k))
				return nil
			}
			s.cache[string(k)] = m
			return nil
		})
	})
}

// Record folds one terminal task outcome into the running aggregate for
// taskType via Welford's algorithm, and appends the durable sample needed
// for a later retention-window recompute. Failures are logged and swallowed.
func (s *Store) Record(taskType string, durationMS float64, success bool, retryCount int, retrySucceeded bool, slaBreached bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	m, ok := s.cache[taskType]
	if !ok {
		m = Metrics{TaskType: taskType}
	}
	m = applyWelford(m, durationMS, now)
	if success {
		m.Success++
	} else {
		m.Failure++
	}
	if retryCount > 0 {
		m.RetryTotal++
		if retrySucceeded {
			m.RetrySuccess++
		}
	}
	if slaBreached {
		m.SLABreach++
	}

	rec := record{
		TS:             now,
		TaskType:       taskType,
		DurationMS:     durationMS,
		Outcome:        outcomeString(success),
		RetryCount:     retryCount,
		RetrySucceeded: retrySucceeded,
		SLABreached:    slaBreached,
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketMetrics), []byte(taskType), m); err != nil {
			return err
		}
		recBucket, err := tx.Bucket(bucketRecords).CreateBucketIfNotExists([]byte(taskType))
		if err != nil {
			return err
		}
		key := []byte(now.UTC().Format(time.RFC3339Nano))
		return putJSON(recBucket, key, rec)
	})
	if err != nil {
		slog.Error("learning record persist failed", "error", err, "task_type", taskType)
		return false
	}
	s.cache[taskType] = m
	return true
}

// Query returns a snapshot of the aggregates for taskType, or (_, false) on
// cold start (no history yet) — never an error, per fail-open semantics.
func (s *Store) Query(taskType string) (Metrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.cache[taskType]
	return m, ok
}

// Maintenance purges records older than the retention window and
// recomputes each type's aggregate from the survivors (two-pass mean/variance).
// A zero window purges everything.
func (s *Store) Maintenance() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.window)
	return s.db.Update(func(tx *bbolt.Tx) error {
		recordsRoot := tx.Bucket(bucketRecords)
		metricsBucket := tx.Bucket(bucketMetrics)

		return recordsRoot.ForEach(func(k, v []byte) error {
			if v != nil {
				return nil // not a nested bucket
			}
			name := append([]byte{}, k...)
			taskType := string(name)
			typeBucket := recordsRoot.Bucket(name)

			var survivors []record
			var staleKeys [][]byte
			c := typeBucket.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var r record
				if err := json.Unmarshal(v, &r); err != nil {
					staleKeys = append(staleKeys, append([]byte{}, k...))
					continue
				}
				if r.TS.Before(cutoff) {
					staleKeys = append(staleKeys, append([]byte{}, k...))
					continue
				}
				survivors = append(survivors, r)
			}
			for _, k := range staleKeys {
				if err := typeBucket.Delete(k); err != nil {
					return err
				}
			}

			recomputed := recomputeFromRecords(taskType, survivors)
			s.cache[taskType] = recomputed
			return putJSON(metricsBucket, name, recomputed)
		})
	})
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func putJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func outcomeString(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}
