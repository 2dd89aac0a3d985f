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

// SaveWorkflow persists wf, allocating the next version and writing a
// version-history record for the saved state. A workflow without an ID (or
// with an ID not yet stored) is created at version 1; otherwise the stored
// record's version is bumped and its CreatedAt preserved. Steps are
// normalized in place: IDs assigned, WorkflowID backfilled, sorted by Order.
func (s *Store) SaveWorkflow(wf *workflow.Workflow, changeSummary string) error {
	if wf == nil {
		return fmt.Errorf("workflow is nil")
	}
	now := time.Now().UTC()

	return s.db.Update(func(tx *bolt.Tx) error {
		wb := tx.Bucket(workflowsBucket)

		if wf.ID == "" {
			wf.ID = uuid.NewString()
		}
		var existing workflow.Workflow
		err := readRecord(wb, []byte(wf.ID), &existing)
		switch err {
		case nil:
			wf.Version = existing.Version + 1
			wf.CreatedAt = existing.CreatedAt
			if changeSummary == "" {
				changeSummary = "Updated workflow"
			}
		case ErrNotFound:
			wf.Version = 1
			wf.CreatedAt = now
			if wf.Status == "" {
				wf.Status = workflow.WorkflowDraft
			}
			if changeSummary == "" {
				changeSummary = "Initial version"
			}
		default:
			return err
		}
		wf.UpdatedAt = now
		normalizeSteps(wf)

		if err := putRecord(wb, []byte(wf.ID), wf); err != nil {
			return err
		}

		vb, err := tx.Bucket(versionsBucket).CreateBucketIfNotExists([]byte(wf.ID))
		if err != nil {
			return fmt.Errorf("creating version bucket: %w", err)
		}
		ver := &WorkflowVersion{
			WorkflowID:    wf.ID,
			Version:       wf.Version,
			ChangeSummary: changeSummary,
			Snapshot:      wf,
			CreatedAt:     now,
		}
		return putRecord(vb, itob(uint64(wf.Version)), ver)
	})
}

// normalizeSteps assigns missing step IDs, backfills WorkflowID, and sorts
// by Order with ID as the tiebreaker.
func normalizeSteps(wf *workflow.Workflow) {
	for i := range wf.Steps {
		if wf.Steps[i].ID == "" {
			wf.Steps[i].ID = uuid.NewString()
		}
		wf.Steps[i].WorkflowID = wf.ID
	}
	sort.SliceStable(wf.Steps, func(i, j int) bool {
		if wf.Steps[i].Order != wf.Steps[j].Order {
			return wf.Steps[i].Order < wf.Steps[j].Order
		}
		return wf.Steps[i].ID < wf.Steps[j].ID
	})
}

// GetWorkflow returns the workflow by ID.
func (s *Store) GetWorkflow(id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	err := s.db.View(func(tx *bolt.Tx) error {
		return readRecord(tx.Bucket(workflowsBucket), []byte(id), &wf)
	})
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}
	return &wf, nil
}

// ListWorkflows returns all workflows, most recently updated first.
func (s *Store) ListWorkflows() ([]*workflow.Workflow, error) {
	var out []*workflow.Workflow
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(workflowsBucket).ForEach(func(_, v []byte) error {
			var wf workflow.Workflow
			if err := json.Unmarshal(v, &wf); err != nil {
				return err
			}
			out = append(out, &wf)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// DeleteWorkflow removes the workflow and everything hanging off it: version
// history, executions with their step rows, and triggers.
func (s *Store) DeleteWorkflow(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		wb := tx.Bucket(workflowsBucket)
		if wb.Get([]byte(id)) == nil {
			return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
		}
		if err := wb.Delete([]byte(id)); err != nil {
			return err
		}

		vb := tx.Bucket(versionsBucket)
		if vb.Bucket([]byte(id)) != nil {
			if err := vb.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}

		// Executions referencing the workflow, plus their step rows.
		eb := tx.Bucket(executionsBucket)
		sb := tx.Bucket(stepExecsBucket)
		var execIDs []string
		if err := eb.ForEach(func(k, v []byte) error {
			var e Execution
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.WorkflowID == id {
				execIDs = append(execIDs, string(k))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, eid := range execIDs {
			if err := eb.Delete([]byte(eid)); err != nil {
				return err
			}
			if sb.Bucket([]byte(eid)) != nil {
				if err := sb.DeleteBucket([]byte(eid)); err != nil {
					return err
				}
			}
		}

		tb := tx.Bucket(triggersBucket)
		var trigIDs []string
		if err := tb.ForEach(func(k, v []byte) error {
			var t Trigger
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.WorkflowID == id {
				trigIDs = append(trigIDs, string(k))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, tid := range trigIDs {
			if err := tb.Delete([]byte(tid)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListVersions returns the workflow's version history, newest first.
func (s *Store) ListVersions(workflowID string) ([]*WorkflowVersion, error) {
	var out []*WorkflowVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		vb := tx.Bucket(versionsBucket).Bucket([]byte(workflowID))
		if vb == nil {
			return nil
		}
		c := vb.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var ver WorkflowVersion
			if err := json.Unmarshal(v, &ver); err != nil {
				return err
			}
			out = append(out, &ver)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetVersion returns one version record.
func (s *Store) GetVersion(workflowID string, version int) (*WorkflowVersion, error) {
	var ver WorkflowVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		vb := tx.Bucket(versionsBucket).Bucket([]byte(workflowID))
		if vb == nil {
			return ErrNotFound
		}
		return readRecord(vb, itob(uint64(version)), &ver)
	})
	if err != nil {
		return nil, fmt.Errorf("workflow %s version %d: %w", workflowID, version, err)
	}
	return &ver, nil
}

// RestoreVersion applies an old version's snapshot to the current workflow
// as a new save, so history moves forward rather than rewinding. Folder,
// tags, and lifecycle status stay as they are now; name, description, steps,
// variables, and metadata come from the snapshot.
func (s *Store) RestoreVersion(workflowID string, version int) (*workflow.Workflow, error) {
	ver, err := s.GetVersion(workflowID, version)
	if err != nil {
		return nil, err
	}
	if ver.Snapshot == nil {
		return nil, fmt.Errorf("workflow %s version %d has no snapshot", workflowID, version)
	}
	wf, err := s.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}

	wf.Name = ver.Snapshot.Name
	wf.Description = ver.Snapshot.Description
	wf.Steps = ver.Snapshot.Steps
	wf.Variables = ver.Snapshot.Variables
	wf.Metadata = ver.Snapshot.Metadata

	if err := s.SaveWorkflow(wf, fmt.Sprintf("Restored to version %d", version)); err != nil {
		return nil, err
	}
	return wf, nil
}
