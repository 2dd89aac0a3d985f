package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// CreateTrigger inserts a trigger row. Semantic validation (cron syntax,
// required config keys) is the trigger manager's job; the store only
// requires identity fields.
func (s *Store) CreateTrigger(t *Trigger) error {
	if t == nil {
		return fmt.Errorf("trigger is nil")
	}
	if t.WorkflowID == "" {
		return fmt.Errorf("trigger missing workflow_id")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(triggersBucket)
		if b.Get([]byte(t.ID)) != nil {
			return fmt.Errorf("trigger %s: %w", t.ID, ErrDuplicate)
		}
		return putRecord(b, []byte(t.ID), t)
	})
}

// GetTrigger returns the trigger by ID.
func (s *Store) GetTrigger(id string) (*Trigger, error) {
	var t Trigger
	err := s.db.View(func(tx *bolt.Tx) error {
		return readRecord(tx.Bucket(triggersBucket), []byte(id), &t)
	})
	if err != nil {
		return nil, fmt.Errorf("trigger %s: %w", id, err)
	}
	return &t, nil
}

// UpdateTrigger overwrites the stored trigger.
func (s *Store) UpdateTrigger(t *Trigger) error {
	if t == nil {
		return fmt.Errorf("trigger is nil")
	}
	t.UpdatedAt = time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(triggersBucket)
		if b.Get([]byte(t.ID)) == nil {
			return fmt.Errorf("trigger %s: %w", t.ID, ErrNotFound)
		}
		return putRecord(b, []byte(t.ID), t)
	})
}

// ListTriggers returns triggers oldest first, optionally filtered by
// workflow.
func (s *Store) ListTriggers(workflowID string) ([]*Trigger, error) {
	var out []*Trigger
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(triggersBucket).ForEach(func(_, v []byte) error {
			var t Trigger
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if workflowID != "" && t.WorkflowID != workflowID {
				return nil
			}
			out = append(out, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteTrigger removes the trigger.
func (s *Store) DeleteTrigger(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(triggersBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("trigger %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}
