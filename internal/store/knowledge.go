package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// PutKnowledgeBase inserts or updates a knowledge base, keyed by ID.
// CreatedAt is preserved across updates.
func (s *Store) PutKnowledgeBase(kb *KnowledgeBase) error {
	if kb == nil {
		return fmt.Errorf("knowledge base is nil")
	}
	if kb.Name == "" {
		return fmt.Errorf("knowledge base name is required")
	}
	if !kb.Category.Valid() {
		return fmt.Errorf("unknown knowledge base category %q", kb.Category)
	}
	if kb.ID == "" {
		kb.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(knowledgeBucket)
		var existing KnowledgeBase
		switch err := readRecord(b, []byte(kb.ID), &existing); err {
		case nil:
			kb.CreatedAt = existing.CreatedAt
		case ErrNotFound:
			kb.CreatedAt = now
		default:
			return err
		}
		kb.UpdatedAt = now
		return putRecord(b, []byte(kb.ID), kb)
	})
}

// GetKnowledgeBase returns the knowledge base by ID.
func (s *Store) GetKnowledgeBase(id string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	err := s.db.View(func(tx *bolt.Tx) error {
		return readRecord(tx.Bucket(knowledgeBucket), []byte(id), &kb)
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge base %s: %w", id, err)
	}
	return &kb, nil
}

// FindKnowledgeBase returns the first base with the given category, or
// ErrNotFound.
func (s *Store) FindKnowledgeBase(category DocumentCategory) (*KnowledgeBase, error) {
	bases, err := s.ListKnowledgeBases()
	if err != nil {
		return nil, err
	}
	for _, kb := range bases {
		if kb.Category == category {
			return kb, nil
		}
	}
	return nil, fmt.Errorf("knowledge base for category %s: %w", category, ErrNotFound)
}

// ListKnowledgeBases returns all bases sorted by name.
func (s *Store) ListKnowledgeBases() ([]*KnowledgeBase, error) {
	var out []*KnowledgeBase
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(knowledgeBucket).ForEach(func(_, v []byte) error {
			var kb KnowledgeBase
			if err := json.Unmarshal(v, &kb); err != nil {
				return err
			}
			out = append(out, &kb)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteKnowledgeBase removes a base and every document it owns, atomically.
// It returns the IDs of the deleted documents so the caller can clear their
// vector entries.
func (s *Store) DeleteKnowledgeBase(id string) ([]string, error) {
	var docIDs []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(knowledgeBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("knowledge base %s: %w", id, ErrNotFound)
		}
		docs := tx.Bucket(documentsBucket)
		if err := docs.ForEach(func(_, v []byte) error {
			var d Document
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.KnowledgeBaseID == id {
				docIDs = append(docIDs, d.ID)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, docID := range docIDs {
			if err := docs.Delete([]byte(docID)); err != nil {
				return err
			}
		}
		return b.Delete([]byte(id))
	})
	if err != nil {
		return nil, err
	}
	return docIDs, nil
}

// PutDocument inserts or updates a knowledge document. CreatedAt is
// preserved across updates.
func (s *Store) PutDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document is nil")
	}
	if !d.Category.Valid() {
		return fmt.Errorf("unknown document category %q", d.Category)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentsBucket)
		var existing Document
		switch err := readRecord(b, []byte(d.ID), &existing); err {
		case nil:
			d.CreatedAt = existing.CreatedAt
		case ErrNotFound:
			d.CreatedAt = now
		default:
			return err
		}
		d.UpdatedAt = now
		return putRecord(b, []byte(d.ID), d)
	})
}

// GetDocument returns the document by ID.
func (s *Store) GetDocument(id string) (*Document, error) {
	var d Document
	err := s.db.View(func(tx *bolt.Tx) error {
		return readRecord(tx.Bucket(documentsBucket), []byte(id), &d)
	})
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	return &d, nil
}

// ListDocuments returns documents newest first, optionally filtered by
// domain.
func (s *Store) ListDocuments(domain string) ([]*Document, error) {
	var out []*Document
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(_, v []byte) error {
			var d Document
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if domain != "" && d.Domain != domain {
				return nil
			}
			out = append(out, &d)
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

// ListDocumentsByCategory returns documents of one category, newest first.
func (s *Store) ListDocumentsByCategory(category DocumentCategory) ([]*Document, error) {
	var out []*Document
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(_, v []byte) error {
			var d Document
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.Category != category {
				return nil
			}
			out = append(out, &d)
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

// DeleteDocument removes the document record. The caller is responsible for
// removing its embedding from the vector store.
func (s *Store) DeleteDocument(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(documentsBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// PutDomain inserts or updates a domain, keyed by name. CreatedAt is
// preserved across updates.
func (s *Store) PutDomain(d *Domain) error {
	if d == nil {
		return fmt.Errorf("domain is nil")
	}
	if d.Name == "" {
		return fmt.Errorf("domain name is required")
	}
	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(domainsBucket)
		var existing Domain
		switch err := readRecord(b, []byte(d.Name), &existing); err {
		case nil:
			d.CreatedAt = existing.CreatedAt
		case ErrNotFound:
			d.CreatedAt = now
		default:
			return err
		}
		d.UpdatedAt = now
		return putRecord(b, []byte(d.Name), d)
	})
}

// GetDomain returns the domain by name.
func (s *Store) GetDomain(name string) (*Domain, error) {
	var d Domain
	err := s.db.View(func(tx *bolt.Tx) error {
		return readRecord(tx.Bucket(domainsBucket), []byte(name), &d)
	})
	if err != nil {
		return nil, fmt.Errorf("domain %s: %w", name, err)
	}
	return &d, nil
}

// ListDomains returns all domains sorted by name.
func (s *Store) ListDomains() ([]*Domain, error) {
	var out []*Domain
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(domainsBucket).ForEach(func(_, v []byte) error {
			var d Domain
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, &d)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AppendQueryLog records one knowledge search. The sequence number is
// allocated by the bucket and returned on the entry.
func (s *Store) AppendQueryLog(q *QueryLogEntry) error {
	if q == nil {
		return fmt.Errorf("query log entry is nil")
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(queryLogBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		q.Seq = seq
		return putRecord(b, itob(seq), q)
	})
}

// RecentQueries returns the newest query log entries, most recent first.
func (s *Store) RecentQueries(limit int) ([]*QueryLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*QueryLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(queryLogBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var q QueryLogEntry
			if err := json.Unmarshal(v, &q); err != nil {
				return err
			}
			out = append(out, &q)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
