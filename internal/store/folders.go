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

// CreateFolder inserts a folder. Names are unique across all folders.
func (s *Store) CreateFolder(f *Folder) error {
	if f == nil {
		return fmt.Errorf("folder is nil")
	}
	if f.Name == "" {
		return fmt.Errorf("folder name is required")
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(foldersBucket)
		var conflict bool
		if err := b.ForEach(func(_, v []byte) error {
			var existing Folder
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Name == f.Name {
				conflict = true
			}
			return nil
		}); err != nil {
			return err
		}
		if conflict {
			return fmt.Errorf("folder %q: %w", f.Name, ErrDuplicate)
		}
		return putRecord(b, []byte(f.ID), f)
	})
}

// GetFolder returns the folder by ID.
func (s *Store) GetFolder(id string) (*Folder, error) {
	var f Folder
	err := s.db.View(func(tx *bolt.Tx) error {
		return readRecord(tx.Bucket(foldersBucket), []byte(id), &f)
	})
	if err != nil {
		return nil, fmt.Errorf("folder %s: %w", id, err)
	}
	return &f, nil
}

// ListFolders returns all folders sorted by name.
func (s *Store) ListFolders() ([]*Folder, error) {
	var out []*Folder
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(foldersBucket).ForEach(func(_, v []byte) error {
			var f Folder
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			out = append(out, &f)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteFolder removes the folder and detaches anything referencing it:
// workflows keep their history with an empty folder, child folders move to
// the root.
func (s *Store) DeleteFolder(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		fb := tx.Bucket(foldersBucket)
		if fb.Get([]byte(id)) == nil {
			return fmt.Errorf("folder %s: %w", id, ErrNotFound)
		}
		if err := fb.Delete([]byte(id)); err != nil {
			return err
		}

		wb := tx.Bucket(workflowsBucket)
		var detach []*workflow.Workflow
		if err := wb.ForEach(func(_, v []byte) error {
			var wf workflow.Workflow
			if err := json.Unmarshal(v, &wf); err != nil {
				return err
			}
			if wf.Folder == id {
				detach = append(detach, &wf)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, wf := range detach {
			wf.Folder = ""
			if err := putRecord(wb, []byte(wf.ID), wf); err != nil {
				return err
			}
		}

		var reparent []*Folder
		if err := fb.ForEach(func(_, v []byte) error {
			var f Folder
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			if f.ParentID == id {
				reparent = append(reparent, &f)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, f := range reparent {
			f.ParentID = ""
			if err := putRecord(fb, []byte(f.ID), f); err != nil {
				return err
			}
		}
		return nil
	})
}
