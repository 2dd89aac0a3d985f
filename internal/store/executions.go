package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/magpieflow/magpie/internal/workflow"
)

// CreateExecution inserts a new execution row. A missing ID is assigned;
// status defaults to pending.
func (s *Store) CreateExecution(e *Execution) error {
	if e == nil {
		return fmt.Errorf("execution is nil")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = workflow.ExecPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(executionsBucket)
		if b.Get([]byte(e.ID)) != nil {
			return fmt.Errorf("execution %s: %w", e.ID, ErrDuplicate)
		}
		return putRecord(b, []byte(e.ID), e)
	})
}

// GetExecution returns the execution by ID.
func (s *Store) GetExecution(id string) (*Execution, error) {
	var e Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		return readRecord(tx.Bucket(executionsBucket), []byte(id), &e)
	})
	if err != nil {
		return nil, fmt.Errorf("execution %s: %w", id, err)
	}
	return &e, nil
}

// UpdateExecution overwrites the stored row. Once an execution reaches a
// terminal status it is immutable; use SetExecutionAnnotation for
// after-the-fact notes.
func (s *Store) UpdateExecution(e *Execution) error {
	if e == nil {
		return fmt.Errorf("execution is nil")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(executionsBucket)
		var existing Execution
		if err := readRecord(b, []byte(e.ID), &existing); err != nil {
			return fmt.Errorf("execution %s: %w", e.ID, err)
		}
		if existing.Status.Terminal() {
			return fmt.Errorf("execution %s: %w", e.ID, ErrImmutable)
		}
		return putRecord(b, []byte(e.ID), e)
	})
}

// SetExecutionAnnotation attaches a monitoring note to an execution. Unlike
// UpdateExecution this is allowed on terminal rows.
func (s *Store) SetExecutionAnnotation(id, key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(executionsBucket)
		var e Execution
		if err := readRecord(b, []byte(id), &e); err != nil {
			return fmt.Errorf("execution %s: %w", id, err)
		}
		if e.Annotations == nil {
			e.Annotations = map[string]string{}
		}
		e.Annotations[key] = value
		return putRecord(b, []byte(id), &e)
	})
}

// ListExecutions returns executions newest first, optionally filtered by
// workflow. limit <= 0 means no limit.
func (s *Store) ListExecutions(workflowID string, limit int) ([]*Execution, error) {
	var out []*Execution
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(executionsBucket).ForEach(func(_, v []byte) error {
			var e Execution
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if workflowID != "" && e.WorkflowID != workflowID {
				return nil
			}
			out = append(out, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteExecution removes the execution and its step rows.
func (s *Store) DeleteExecution(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(executionsBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("execution %s: %w", id, ErrNotFound)
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		sb := tx.Bucket(stepExecsBucket)
		if sb.Bucket([]byte(id)) != nil {
			return sb.DeleteBucket([]byte(id))
		}
		return nil
	})
}

// CleanupExecutions deletes executions created before cutoff, keeping failed
// rows when keepFailed is set. It returns how many were removed.
func (s *Store) CleanupExecutions(cutoff time.Time, keepFailed bool) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(executionsBucket)
		sb := tx.Bucket(stepExecsBucket)

		var victims []string
		if err := b.ForEach(func(k, v []byte) error {
			var e Execution
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if !e.CreatedAt.Before(cutoff) {
				return nil
			}
			if keepFailed && e.Status == workflow.ExecFailed {
				return nil
			}
			victims = append(victims, string(k))
			return nil
		}); err != nil {
			return err
		}

		for _, id := range victims {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
			if sb.Bucket([]byte(id)) != nil {
				if err := sb.DeleteBucket([]byte(id)); err != nil {
					return err
				}
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// stepExecKey orders step rows by step order with the step ID as a stable
// tiebreaker; upserts for the same step land on the same key.
func stepExecKey(order int, stepID string) []byte {
	return []byte(fmt.Sprintf("%08d:%s", order, stepID))
}

// PutStepExecution upserts one step row under its execution.
func (s *Store) PutStepExecution(se *StepExecution) error {
	if se == nil {
		return fmt.Errorf("step execution is nil")
	}
	if se.ExecutionID == "" {
		return fmt.Errorf("step execution missing execution_id")
	}
	if se.ID == "" {
		se.ID = uuid.NewString()
	}
	if se.CreatedAt.IsZero() {
		se.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(stepExecsBucket).CreateBucketIfNotExists([]byte(se.ExecutionID))
		if err != nil {
			return fmt.Errorf("creating step execution bucket: %w", err)
		}
		return putRecord(b, stepExecKey(se.Order, se.StepID), se)
	})
}

// ListStepExecutions returns an execution's step rows in step order.
func (s *Store) ListStepExecutions(executionID string) ([]*StepExecution, error) {
	var out []*StepExecution
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(stepExecsBucket).Bucket([]byte(executionID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var se StepExecution
			if err := json.Unmarshal(v, &se); err != nil {
				return err
			}
			out = append(out, &se)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
