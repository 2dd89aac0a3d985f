package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionState is the in-memory working set while a graph runs. It is
// owned by the execution's goroutine; checkpoints are snapshots taken by the
// owner, never shared references.
type ExecutionState struct {
	WorkflowID       string                `json:"workflow_id"`
	ExecutionID      string                `json:"execution_id"`
	CurrentStepIndex int                   `json:"current_step_index"`
	StepStatuses     map[string]StepStatus `json:"step_statuses"`
	Variables        map[string]any        `json:"variables"`
	StepOutputs      map[string]any        `json:"step_outputs"`
	Errors           []StepError           `json:"errors"`
	ShouldStop       bool                  `json:"should_stop"`
	WaitingApproval  bool                  `json:"waiting_approval"`
	ApprovalStepID   string                `json:"approval_step_id,omitempty"`
	Logs             []string              `json:"logs"`
}

// StepError records one step failure in insertion order. Entries are never
// mutated after append.
type StepError struct {
	StepID    string    `json:"step_id"`
	StepName  string    `json:"step_name,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewExecutionState creates the initial state for a run: every step pending,
// variables copied from the caller, empty collections initialized so JSON
// serialization produces {} and [] rather than null.
func NewExecutionState(workflowID, executionID string, steps []Step, variables map[string]any) *ExecutionState {
	statuses := make(map[string]StepStatus, len(steps))
	for _, s := range steps {
		statuses[s.ID] = StepStatusPending
	}
	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}
	st := &ExecutionState{
		WorkflowID:       workflowID,
		ExecutionID:      executionID,
		CurrentStepIndex: 0,
		StepStatuses:     statuses,
		Variables:        vars,
		StepOutputs:      map[string]any{},
		Errors:           []StepError{},
		Logs:             []string{},
	}
	st.AppendLog("Workflow started")
	return st
}

// MarkStep transitions a step's status. The transition is applied only when
// it does not regress: pending -> running -> waiting_approval -> terminal.
// It returns false (leaving the prior status in place) for attempted
// downgrades, which callers may log but must not treat as fatal.
func (s *ExecutionState) MarkStep(stepID string, status StepStatus) bool {
	current, ok := s.StepStatuses[stepID]
	if !ok {
		s.StepStatuses[stepID] = status
		return true
	}
	if current == status {
		return true
	}
	if status.rank() <= current.rank() {
		return false
	}
	s.StepStatuses[stepID] = status
	return true
}

// AddError appends a failure record and timestamps it.
func (s *ExecutionState) AddError(stepID, stepName, message string) {
	s.Errors = append(s.Errors, StepError{
		StepID:    stepID,
		StepName:  stepName,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// AppendLog appends a timestamped line to the execution log.
func (s *ExecutionState) AppendLog(format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	s.Logs = append(s.Logs, line)
}

// FirstError returns the earliest recorded step error, or nil when the run
// is clean. The runner uses it as the execution's terminal error.
func (s *ExecutionState) FirstError() *StepError {
	if len(s.Errors) == 0 {
		return nil
	}
	return &s.Errors[0]
}

// Clone returns a deep copy of the state via a JSON round-trip. Variables
// and outputs are JSON-representable by contract, so the round-trip is
// lossless. Checkpoint sinks store clones so prior snapshots stay immutable.
func (s *ExecutionState) Clone() *ExecutionState {
	raw, err := json.Marshal(s)
	if err != nil {
		// Values are JSON-representable by contract; reaching this means an
		// invariant violation upstream.
		panic(fmt.Sprintf("workflow: state clone: %v", err))
	}
	var out ExecutionState
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("workflow: state clone: %v", err))
	}
	if out.StepStatuses == nil {
		out.StepStatuses = map[string]StepStatus{}
	}
	if out.Variables == nil {
		out.Variables = map[string]any{}
	}
	if out.StepOutputs == nil {
		out.StepOutputs = map[string]any{}
	}
	if out.Errors == nil {
		out.Errors = []StepError{}
	}
	if out.Logs == nil {
		out.Logs = []string{}
	}
	return &out
}
