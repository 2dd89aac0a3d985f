// Package workflow implements the state-graph engine at the core of magpie:
// workflow and step definitions, the in-memory execution state, the
// restricted condition evaluator, and checkpoint sinks. Step execution is
// delegated through the StepRunner seam so the engine stays independent of
// concrete step implementations.
package workflow

import (
	"fmt"
	"time"
)

// StepType identifies the behavior of a workflow step. The dispatcher is a
// closed switch over these values; adding a type means adding a handler.
type StepType string

const (
	StepLLMCall       StepType = "llm_call"
	StepAPICall       StepType = "api_call"
	StepPythonScript  StepType = "python_script"
	StepCondition     StepType = "condition"
	StepApproval      StepType = "approval"
	StepNotification  StepType = "notification"
	StepDataTransform StepType = "data_transform"
)

// KnownStepTypes lists every valid StepType in a stable order.
var KnownStepTypes = []StepType{
	StepLLMCall,
	StepAPICall,
	StepPythonScript,
	StepCondition,
	StepApproval,
	StepNotification,
	StepDataTransform,
}

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	for _, k := range KnownStepTypes {
		if t == k {
			return true
		}
	}
	return false
}

// StepStatus tracks a step through its lifecycle. Transitions are monotone:
// pending -> running -> {success, failed, skipped, waiting_approval}, and
// waiting_approval may advance to success when an approval is granted.
// ExecutionState.MarkStep enforces this ordering.
type StepStatus string

const (
	StepStatusPending         StepStatus = "pending"
	StepStatusRunning         StepStatus = "running"
	StepStatusSuccess         StepStatus = "success"
	StepStatusFailed          StepStatus = "failed"
	StepStatusSkipped         StepStatus = "skipped"
	StepStatusWaitingApproval StepStatus = "waiting_approval"
)

// rank orders statuses for the monotonicity guard. Higher ranks may never
// transition to lower ones.
func (s StepStatus) rank() int {
	switch s {
	case StepStatusPending:
		return 0
	case StepStatusRunning:
		return 1
	case StepStatusWaitingApproval:
		return 2
	case StepStatusSuccess, StepStatusFailed, StepStatusSkipped:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether s is a final step status. waiting_approval is not
// terminal: an approved step advances to success.
func (s StepStatus) Terminal() bool {
	return s == StepStatusSuccess || s == StepStatusFailed || s == StepStatusSkipped
}

// WorkflowStatus is the lifecycle state of a stored workflow definition.
type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "draft"
	WorkflowActive   WorkflowStatus = "active"
	WorkflowArchived WorkflowStatus = "archived"
)

// ExecutionStatus is the lifecycle state of one workflow run. success,
// failed, and cancelled are terminal; waiting_approval runs resume through
// the runner's approve/reject operations.
type ExecutionStatus string

const (
	ExecPending         ExecutionStatus = "pending"
	ExecRunning         ExecutionStatus = "running"
	ExecSuccess         ExecutionStatus = "success"
	ExecFailed          ExecutionStatus = "failed"
	ExecCancelled       ExecutionStatus = "cancelled"
	ExecWaitingApproval ExecutionStatus = "waiting_approval"
)

// Terminal reports whether the status is final. Terminal executions are
// immutable apart from monitoring annotations.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecSuccess || s == ExecFailed || s == ExecCancelled
}

// ErrorKind classifies failures across the system. Kinds are stable strings
// so they round-trip through JSON and step results.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation_error"
	KindScriptFailure  ErrorKind = "script_failure"
	KindNetworkFailure ErrorKind = "network_failure"
	KindHTTPError      ErrorKind = "http_error"
	KindEvaluation     ErrorKind = "evaluation_error"
	KindTimeout        ErrorKind = "timeout"
	KindCancelled      ErrorKind = "cancelled"
	KindInternal       ErrorKind = "internal_error"
)

// Error is a classified error. It travels across step boundaries as a string
// (StepResult.Error) but callers inside the process can recover the kind via
// errors.As.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError creates a classified error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// RetryConfig bounds the engine's per-step retry loop. Attempt k (k >= 1)
// waits RetryDelaySeconds * 2^(k-1) before re-invoking the step.
type RetryConfig struct {
	MaxRetries        int     `json:"max_retries" toml:"max_retries"`
	RetryDelaySeconds float64 `json:"retry_delay_seconds" toml:"retry_delay_seconds"`
}

// Step is one unit of work within a workflow. Config's schema depends on
// Type; Code carries the script body for python_script steps. Steps are
// ordered by Order with ties broken by ID.
type Step struct {
	ID            string            `json:"id" toml:"id"`
	WorkflowID    string            `json:"workflow_id,omitempty" toml:"workflow_id,omitempty"`
	Order         int               `json:"order" toml:"order"`
	Name          string            `json:"name" toml:"name"`
	Type          StepType          `json:"step_type" toml:"step_type"`
	Config        map[string]any    `json:"config,omitempty" toml:"config,omitempty"`
	Code          string            `json:"code,omitempty" toml:"code,omitempty"`
	InputMapping  map[string]string `json:"input_mapping,omitempty" toml:"input_mapping,omitempty"`
	OutputMapping map[string]string `json:"output_mapping,omitempty" toml:"output_mapping,omitempty"`
	Retry         *RetryConfig      `json:"retry_config,omitempty" toml:"retry_config,omitempty"`
	Condition     string            `json:"condition,omitempty" toml:"condition,omitempty"`
}

// Workflow is a persisted plan: an ordered list of steps plus initial
// variables. Modifications allocate a new Version; prior versions are kept.
type Workflow struct {
	ID          string         `json:"id" toml:"id"`
	Version     int            `json:"version" toml:"version"`
	Name        string         `json:"name" toml:"name"`
	Description string         `json:"description,omitempty" toml:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty" toml:"tags,omitempty"`
	Folder      string         `json:"folder,omitempty" toml:"folder,omitempty"`
	Status      WorkflowStatus `json:"status" toml:"status"`
	Steps       []Step         `json:"steps" toml:"steps"`
	Variables   map[string]any `json:"variables,omitempty" toml:"variables,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" toml:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at" toml:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" toml:"updated_at"`
}

// StepResult is the uniform outcome shape every step produces, so that
// output_mapping can address any step type the same way. Output always holds
// the step-specific payload; Error is set when Success is false.
type StepResult struct {
	Success         bool           `json:"success"`
	Output          map[string]any `json:"output"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       ErrorKind      `json:"error_kind,omitempty"`
	Logs            []string       `json:"logs,omitempty"`
	WaitingApproval bool           `json:"requires_approval,omitempty"`
}

// FailureResult builds a failed StepResult from a classified error.
func FailureResult(err *Error) *StepResult {
	return &StepResult{
		Success:   false,
		Output:    map[string]any{},
		Error:     err.Message,
		ErrorKind: err.Kind,
	}
}
