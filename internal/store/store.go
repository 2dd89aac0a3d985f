// Package store persists magpie's records in a single bbolt file: workflow
// definitions with their version history, execution and step-execution rows,
// folders, triggers, knowledge bases and their documents, domains, and the
// query log. Records are JSON-encoded; all multi-record operations run inside
// one Update transaction so cascades are atomic.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Sentinel errors. Callers match with errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
	ErrImmutable = errors.New("execution is terminal")
)

var (
	workflowsBucket  = []byte("workflows")
	versionsBucket   = []byte("workflow_versions")
	executionsBucket = []byte("executions")
	stepExecsBucket  = []byte("step_executions")
	foldersBucket    = []byte("folders")
	triggersBucket   = []byte("triggers")
	documentsBucket  = []byte("documents")
	knowledgeBucket  = []byte("knowledge_bases")
	domainsBucket    = []byte("domains")
	queryLogBucket   = []byte("query_log")
)

var allBuckets = [][]byte{
	workflowsBucket,
	versionsBucket,
	executionsBucket,
	stepExecsBucket,
	foldersBucket,
	triggersBucket,
	documentsBucket,
	knowledgeBucket,
	domainsBucket,
	queryLogBucket,
}

// Store wraps the bbolt database. It is safe for concurrent use; bbolt
// serializes writers internally.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the database at path. The parent
// directory is created when missing. The open times out after one second so
// a second process holding the file lock fails fast instead of hanging.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the underlying database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

// putRecord JSON-encodes v under key in bucket b.
func putRecord(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return b.Put(key, data)
}

// readRecord decodes the value at key into v, or ErrNotFound.
func readRecord(b *bolt.Bucket, key []byte, v any) error {
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// itob returns v as a big-endian 8-byte key, so numeric keys iterate in
// order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
