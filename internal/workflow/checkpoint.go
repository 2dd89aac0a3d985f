package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CheckpointSink receives an immutable snapshot of the execution state after
// every node. Sinks enable resume after waiting_approval and reconstruction
// of partial progress after a restart.
type CheckpointSink interface {
	// Save stores a snapshot keyed by execution ID. Implementations must not
	// retain live references; the engine passes a clone.
	Save(executionID string, state *ExecutionState) error

	// Load returns the latest snapshot for an execution, or nil when none
	// has been stored.
	Load(executionID string) (*ExecutionState, error)
}

// MemorySink is the default checkpoint sink: ordered snapshots per execution,
// kept in process memory. Safe for concurrent use across executions.
type MemorySink struct {
	mu    sync.Mutex
	snaps map[string][]*ExecutionState
}

// NewMemorySink creates an empty in-memory checkpoint sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{snaps: make(map[string][]*ExecutionState)}
}

// Save appends a snapshot to the execution's history.
func (m *MemorySink) Save(executionID string, state *ExecutionState) error {
	if executionID == "" {
		return fmt.Errorf("checkpoint: empty execution ID")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[executionID] = append(m.snaps[executionID], state)
	return nil
}

// Load returns the most recent snapshot, or nil if none exists.
func (m *MemorySink) Load(executionID string) (*ExecutionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.snaps[executionID]
	if len(hist) == 0 {
		return nil, nil
	}
	return hist[len(hist)-1].Clone(), nil
}

// History returns every snapshot stored for an execution, oldest first.
func (m *MemorySink) History(executionID string) []*ExecutionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.snaps[executionID]
	out := make([]*ExecutionState, len(hist))
	copy(out, hist)
	return out
}

// FileSink persists the latest snapshot per execution as
// <dir>/<execution_id>.json using an atomic write (temp file then rename) so
// a crash mid-write never corrupts an existing checkpoint.
type FileSink struct {
	mu  sync.Mutex
	dir string
}

// NewFileSink creates a checkpoint sink rooted at dir. The directory is
// created on first save.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Save writes the snapshot atomically.
func (f *FileSink) Save(executionID string, state *ExecutionState) error {
	if executionID == "" {
		return fmt.Errorf("checkpoint: empty execution ID")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: creating directory %q: %w", f.dir, err)
	}

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: encoding state for %q: %w", executionID, err)
	}

	path := f.path(executionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("checkpoint: writing temp file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("checkpoint: renaming temp file to %q: %w", path, err)
	}
	return nil
}

// Load reads the stored snapshot. A missing file returns (nil, nil).
func (f *FileSink) Load(executionID string) (*ExecutionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: reading %q: %w", executionID, err)
	}
	var st ExecutionState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("checkpoint: decoding %q: %w", executionID, err)
	}
	return &st, nil
}

func (f *FileSink) path(executionID string) string {
	return filepath.Join(f.dir, executionID+".json")
}
