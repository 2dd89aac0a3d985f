// Package runner drives complete workflow executions. It loads the stored
// definition, creates the execution row and a pending row per step, runs the
// graph engine with a persistence callback, and resolves the terminal status
// from the final state. Cross-execution operations (retry, approve, reject,
// cancel) live here too; per-step retry belongs to the engine.
package runner

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/magpieflow/magpie/internal/logging"
	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/workflow"
)

// Runner owns execution lifecycle end to end. Each Execute call runs on the
// caller's goroutine; concurrent executions are independent and share only
// the store.
type Runner struct {
	store  *store.Store
	steps  workflow.StepRunner
	logger *log.Logger
	events chan<- workflow.Event
	sink   workflow.CheckpointSink
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithEventChannel forwards engine events, for the live watch view.
func WithEventChannel(ch chan<- workflow.Event) Option {
	return func(r *Runner) { r.events = ch }
}

// WithCheckpointSink replaces the engine's default in-memory sink.
func WithCheckpointSink(sink workflow.CheckpointSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// New creates a Runner over the store and step dispatcher.
func New(st *store.Store, steps workflow.StepRunner, opts ...Option) *Runner {
	r := &Runner{
		store:  st,
		steps:  steps,
		logger: logging.New("runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunRequest describes one execution request.
type RunRequest struct {
	WorkflowID string
	InputData  map[string]any
	TriggerID  string
}

// Execute runs a workflow to its terminal (or suspended) status and returns
// the persisted execution row. Workflow-level failures are reported on the
// row, not as a Go error; the error return covers infrastructure problems
// such as a missing workflow or a store failure.
func (r *Runner) Execute(ctx context.Context, req RunRequest) (*store.Execution, error) {
	wf, err := r.store.GetWorkflow(req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("loading workflow: %w", err)
	}

	initial := maps.Clone(wf.Variables)
	if initial == nil {
		initial = make(map[string]any)
	}
	maps.Copy(initial, req.InputData)

	now := time.Now().UTC()
	exec := &store.Execution{
		ID:              uuid.NewString(),
		WorkflowID:      wf.ID,
		WorkflowName:    wf.Name,
		WorkflowVersion: wf.Version,
		TriggerID:       req.TriggerID,
		Status:          workflow.ExecRunning,
		InputData:       req.InputData,
		StartedAt:       &now,
	}
	if err := r.store.CreateExecution(exec); err != nil {
		return nil, fmt.Errorf("creating execution: %w", err)
	}
	r.logger.Info("execution created", "execution", exec.ID, "workflow", wf.Name)

	// A workflow without steps completes immediately; its result is the
	// merged initial variables.
	if len(wf.Steps) == 0 {
		exec.Status = workflow.ExecSuccess
		exec.OutputData = initial
		exec.Logs = []string{"Workflow has no steps; nothing to run"}
		r.stamp(exec)
		if err := r.store.UpdateExecution(exec); err != nil {
			return nil, fmt.Errorf("finishing empty execution: %w", err)
		}
		return exec, nil
	}

	steps := workflow.SortSteps(wf.Steps)
	rows, err := r.createStepRows(exec.ID, steps)
	if err != nil {
		return nil, err
	}

	state := workflow.NewExecutionState(wf.ID, exec.ID, steps, initial)
	eng := r.engine(r.persistStep(rows))
	final, runErr := eng.Execute(ctx, wf, state)

	return r.finalize(exec, final, runErr)
}

// createStepRows inserts one pending StepExecution per step and returns them
// keyed by step ID for the completion callback.
func (r *Runner) createStepRows(executionID string, steps []workflow.Step) (map[string]*store.StepExecution, error) {
	rows := make(map[string]*store.StepExecution, len(steps))
	for i := range steps {
		st := &steps[i]
		row := &store.StepExecution{
			ExecutionID: executionID,
			StepID:      st.ID,
			StepName:    st.Name,
			StepType:    st.Type,
			Order:       st.Order,
			Status:      workflow.StepStatusPending,
		}
		if err := r.store.PutStepExecution(row); err != nil {
			return nil, fmt.Errorf("creating step row for %q: %w", st.Name, err)
		}
		rows[st.ID] = row
	}
	return rows, nil
}

// persistStep returns the engine callback that upserts the matching step row
// after every attempted step. Persistence failures are logged, never fatal
// to the run.
func (r *Runner) persistStep(rows map[string]*store.StepExecution) workflow.StepCompleteFunc {
	return func(st *workflow.Step, status workflow.StepStatus, result *workflow.StepResult, duration time.Duration) {
		row, ok := rows[st.ID]
		if !ok {
			return
		}
		now := time.Now().UTC()
		started := now.Add(-duration)

		row.Status = status
		row.OutputData = result.Output
		row.Logs = result.Logs
		row.StartedAt = &started
		row.DurationSeconds = duration.Seconds()
		if status.Terminal() {
			row.CompletedAt = &now
		}
		if status == workflow.StepStatusFailed {
			row.ErrorMessage = result.Error
		}
		if err := r.store.PutStepExecution(row); err != nil {
			r.logger.Warn("persisting step row failed",
				"execution", row.ExecutionID, "step", st.Name, "error", err)
		}
	}
}

// engine builds a graph engine wired to this runner's sinks.
func (r *Runner) engine(cb workflow.StepCompleteFunc) *workflow.Engine {
	opts := []workflow.Option{
		workflow.WithLogger(r.logger),
		workflow.WithStepCallback(cb),
	}
	if r.events != nil {
		opts = append(opts, workflow.WithEventChannel(r.events))
	}
	if r.sink != nil {
		opts = append(opts, workflow.WithCheckpointSink(r.sink))
	}
	return workflow.NewEngine(r.steps, opts...)
}

// finalize resolves the execution's status from the final state and persists
// the row. Failed steps dominate a pending approval; the first recorded step
// error becomes the execution's terminal error.
func (r *Runner) finalize(exec *store.Execution, state *workflow.ExecutionState, runErr error) (*store.Execution, error) {
	exec.OutputData = state.Variables
	exec.Logs = state.Logs

	switch {
	case runErr != nil:
		exec.Status = workflow.ExecCancelled
		exec.ErrorMessage = runErr.Error()
		r.stamp(exec)
	case state.FirstError() != nil:
		first := state.FirstError()
		exec.Status = workflow.ExecFailed
		exec.ErrorMessage = first.Message
		exec.ErrorStepID = first.StepID
		r.stamp(exec)
	case state.WaitingApproval:
		exec.Status = workflow.ExecWaitingApproval
	default:
		exec.Status = workflow.ExecSuccess
		r.stamp(exec)
	}

	if err := r.store.UpdateExecution(exec); err != nil {
		return nil, fmt.Errorf("updating execution %s: %w", exec.ID, err)
	}
	r.logger.Info("execution finished",
		"execution", exec.ID, "status", exec.Status, "steps", state.CurrentStepIndex)
	return exec, nil
}

// stamp sets the completion time and duration. Suspended executions are not
// stamped; they complete through Approve or Reject.
func (r *Runner) stamp(exec *store.Execution) {
	now := time.Now().UTC()
	exec.CompletedAt = &now
	if exec.StartedAt != nil {
		exec.DurationSeconds = now.Sub(*exec.StartedAt).Seconds()
	}
}
