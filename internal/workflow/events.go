package workflow

import (
	"context"
	"time"
)

// Route is the router's verdict after each node: continue to the next step
// by order, stop the graph, or suspend for approval.
type Route string

const (
	RouteContinue     Route = "continue"
	RouteStop         Route = "stop"
	RouteWaitApproval Route = "wait_approval"
)

// Router inspects the post-step state and decides where the graph goes next.
// should_stop dominates waiting_approval regardless of other fields.
func Router(state *ExecutionState) Route {
	if state.ShouldStop {
		return RouteStop
	}
	if state.WaitingApproval {
		return RouteWaitApproval
	}
	return RouteContinue
}

// StepRunner is the seam between the engine and step execution. The step
// dispatcher implements it; tests substitute fakes. The engine passes copies
// of the variable and output maps, so implementations may mutate their view
// freely without touching execution state.
type StepRunner interface {
	RunStep(ctx context.Context, step *Step, variables map[string]any, outputs map[string]any) *StepResult
}

// StepRunnerFunc adapts a function to the StepRunner interface.
type StepRunnerFunc func(ctx context.Context, step *Step, variables map[string]any, outputs map[string]any) *StepResult

// RunStep calls f.
func (f StepRunnerFunc) RunStep(ctx context.Context, step *Step, variables map[string]any, outputs map[string]any) *StepResult {
	return f(ctx, step, variables, outputs)
}

// StepCompleteFunc is the persistence hook fired after every attempted step
// with its terminal status, raw result, and wall-clock duration.
type StepCompleteFunc func(step *Step, status StepStatus, result *StepResult, duration time.Duration)

// Event type constants identify lifecycle milestones emitted by the engine.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionResumed   = "execution_resumed"
	EventStepStarted        = "step_started"
	EventStepCompleted      = "step_completed"
	EventStepFailed         = "step_failed"
	EventStepSkipped        = "step_skipped"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionWaiting   = "execution_waiting"
	EventCheckpointSaved    = "checkpoint"
)

// Event is a structured message emitted by the engine during execution,
// consumed by the watch TUI and structured log output. Sends are
// non-blocking; a slow consumer drops events rather than stalling the graph.
type Event struct {
	Type        string     `json:"type"`
	ExecutionID string     `json:"execution_id"`
	WorkflowID  string     `json:"workflow_id"`
	StepID      string     `json:"step_id,omitempty"`
	StepName    string     `json:"step_name,omitempty"`
	Status      StepStatus `json:"status,omitempty"`
	Message     string     `json:"message"`
	Error       string     `json:"error,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}
