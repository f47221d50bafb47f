package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/kubestrap/pkg/errdefs"
	"github.com/cuemby/kubestrap/pkg/types"
)

var (
	// Bucket names
	bucketRun        = []byte("run")
	bucketComponents = []byte("components")
	bucketEvents     = []byte("events")
)

// RunInfo is the persisted identity of one bootstrap run.
type RunInfo struct {
	RunID     string    `json:"run_id"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// Store persists run identity, component states and lifecycle events in a
// single-file database, so the last run can be inspected after the
// supervisor is gone. The file is opened per operation and never held
// locked in between, so another process (the status command) can read it
// while the cluster is running.
type Store struct {
	path string

	// mu serializes operations: two opens of the same file from one
	// process contend on the file lock and would time out against each
	// other.
	mu sync.Mutex
}

// Open validates the database at path, creating it and its buckets if
// absent.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	err := s.update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRun, bucketComponents, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close is kept for symmetry with Open; no handle outlives an operation.
func (s *Store) Close() error {
	return nil
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return errdefs.WrapErr(errdefs.ErrFilesystem, err, "open state db %s", s.path)
	}
	defer db.Close()
	return db.Update(fn)
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return errdefs.WrapErr(errdefs.ErrFilesystem, err, "open state db %s", s.path)
	}
	defer db.Close()
	return db.View(fn)
}

// SaveRun persists the run identity.
func (s *Store) SaveRun(info RunInfo) error {
	return s.update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRun).Put([]byte("current"), data)
	})
}

// LoadRun returns the persisted run identity.
func (s *Store) LoadRun() (*RunInfo, error) {
	var info RunInfo
	err := s.view(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRun).Get([]byte("current"))
		if data == nil {
			return fmt.Errorf("no run recorded")
		}
		return json.Unmarshal(data, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// RecordState upserts a component status snapshot and appends a lifecycle
// event. It satisfies the supervisor's Recorder interface.
func (s *Store) RecordState(status types.ComponentStatus) error {
	return s.update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketComponents).Put([]byte(status.Name), data); err != nil {
			return err
		}

		events := tx.Bucket(bucketEvents)
		seq, err := events.NextSequence()
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%016d", seq)
		event, err := json.Marshal(stateEvent{
			Component: status.Name,
			State:     status.State,
			At:        time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return events.Put([]byte(key), event)
	})
}

type stateEvent struct {
	Component string               `json:"component"`
	State     types.ComponentState `json:"state"`
	At        time.Time            `json:"at"`
}

// GetComponent returns the last recorded status of one component.
func (s *Store) GetComponent(name string) (*types.ComponentStatus, error) {
	var status types.ComponentStatus
	err := s.view(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketComponents).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("component not recorded: %s", name)
		}
		return json.Unmarshal(data, &status)
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// ListComponents returns every recorded component status, in key order.
func (s *Store) ListComponents() ([]types.ComponentStatus, error) {
	var out []types.ComponentStatus
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketComponents).ForEach(func(_, data []byte) error {
			var status types.ComponentStatus
			if err := json.Unmarshal(data, &status); err != nil {
				return err
			}
			out = append(out, status)
			return nil
		})
	})
	return out, err
}
