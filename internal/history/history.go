// Package history is a bbolt-backed, append-only log of completed workflow
// executions, written once after each engine.Manager.Run returns. It exists
// purely for observability/audit (§12.1): nothing here is ever read back into
// a running Manager, and it deliberately does not carry the teacher's
// workflow-definition/versioning half (see DESIGN.md) — a fresh run always
// starts every task at WAITING regardless of what this log contains.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/swarmguard/workflow-engine/engine"
	"github.com/swarmguard/workflow-engine/task"
)

var bucketExecutions = []byte("executions")

// TaskResult is a single task's terminal snapshot within an execution record.
type TaskResult struct {
	Name  string     `json:"name"`
	State task.State `json:"state"`
}

// Execution is a completed workflow run, recorded once Run returns.
type Execution struct {
	WorkflowID string       `json:"workflow_id"`
	RootName   string       `json:"root_name"`
	Status     string       `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    time.Time    `json:"ended_at"`
	Tasks      []TaskResult `json:"tasks"`
}

// Store is an append-only execution-history log backed by a bbolt file.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) a bbolt-backed Store at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketExecutions)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun builds an Execution snapshot from mgr's final Status/ancestors
// and appends it to the log, keyed by workflow ID.
func (s *Store) RecordRun(mgr *engine.Manager, root task.Task, result *engine.Result, startedAt time.Time) error {
	exec := Execution{
		WorkflowID: mgr.ID(),
		RootName:   root.Name(),
		Status:     string(result.Status),
		StartedAt:  startedAt,
		EndedAt:    time.Now(),
	}
	for name, st := range mgr.Status() {
		exec.Tasks = append(exec.Tasks, TaskResult{Name: name, State: st})
	}
	return s.Put(exec)
}

// Put appends exec to the log, keyed by its workflow ID.
func (s *Store) Put(exec Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("history: marshal execution: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.Put([]byte(exec.WorkflowID), data)
	})
}

// Get looks up a single execution record by workflow ID.
func (s *Store) Get(workflowID string) (Execution, bool, error) {
	var exec Execution
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		data := b.Get([]byte(workflowID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &exec)
	})
	if err != nil {
		return Execution{}, false, fmt.Errorf("history: get %s: %w", workflowID, err)
	}
	return exec, found, nil
}

// ListSince returns every execution whose EndedAt is at or after since, in
// bbolt's key (workflow ID) order.
func (s *Store) ListSince(since time.Time) ([]Execution, error) {
	var out []Execution
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketExecutions)
		return b.ForEach(func(_, data []byte) error {
			var exec Execution
			if err := json.Unmarshal(data, &exec); err != nil {
				return err
			}
			if !exec.EndedAt.Before(since) {
				out = append(out, exec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}
