package workflow

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Engine is the state-machine interpreter: it walks a workflow's ordered
// step list, delegates each step to the StepRunner, applies output mappings,
// and offers a checkpoint of the state to the sink after every node. Steps
// within one execution run strictly sequentially; step N never starts before
// step N-1 reached a terminal status.
type Engine struct {
	runner         StepRunner
	sink           CheckpointSink
	events         chan<- Event
	logger         *log.Logger
	onStepComplete StepCompleteFunc
}

// Option configures the Engine.
type Option func(*Engine)

// WithCheckpointSink replaces the default in-memory checkpoint sink.
func WithCheckpointSink(sink CheckpointSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithEventChannel sets the channel on which the engine broadcasts Events.
// Sends are non-blocking so a slow consumer never stalls execution.
func WithEventChannel(ch chan<- Event) Option {
	return func(e *Engine) { e.events = ch }
}

// WithLogger attaches a logger. When nil the engine operates silently.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStepCallback registers the persistence hook fired after every
// attempted step.
func WithStepCallback(fn StepCompleteFunc) Option {
	return func(e *Engine) { e.onStepComplete = fn }
}

// NewEngine creates an engine around the given step runner. A nil runner
// panics: the engine cannot execute anything without its dispatcher.
func NewEngine(runner StepRunner, opts ...Option) *Engine {
	if runner == nil {
		panic("workflow: NewEngine called with nil StepRunner")
	}
	e := &Engine{
		runner: runner,
		sink:   NewMemorySink(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sink returns the engine's checkpoint sink.
func (e *Engine) Sink() CheckpointSink { return e.sink }

// Execute runs the workflow graph to a terminal route. When state is nil a
// fresh ExecutionState is created with a generated execution ID; passing a
// prior state resumes: steps already in a terminal status are not re-run.
//
// Execute returns the final state. The only error it returns across its
// boundary is cooperative cancellation via ctx; step failures land in
// state.Errors and resolve through the router instead.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, state *ExecutionState) (*ExecutionState, error) {
	steps := SortSteps(wf.Steps)

	if state == nil {
		state = NewExecutionState(wf.ID, uuid.NewString(), steps, wf.Variables)
	}

	resumed := false
	for _, st := range state.StepStatuses {
		if st != StepStatusPending {
			resumed = true
			break
		}
	}
	if resumed {
		state.AppendLog("Workflow resumed")
		e.emit(Event{
			Type:        EventExecutionResumed,
			ExecutionID: state.ExecutionID,
			WorkflowID:  state.WorkflowID,
			Message:     fmt.Sprintf("workflow %q resumed", wf.Name),
			Timestamp:   time.Now(),
		})
		e.log("execution resumed", "workflow", wf.Name, "execution", state.ExecutionID)
	} else {
		e.emit(Event{
			Type:        EventExecutionStarted,
			ExecutionID: state.ExecutionID,
			WorkflowID:  state.WorkflowID,
			Message:     fmt.Sprintf("workflow %q started", wf.Name),
			Timestamp:   time.Now(),
		})
		e.log("execution started", "workflow", wf.Name, "execution", state.ExecutionID, "steps", len(steps))
	}

	for i := range steps {
		step := &steps[i]

		// Resume support: steps that already reached a terminal status are
		// not re-run.
		if state.StepStatuses[step.ID].Terminal() {
			continue
		}

		// Cooperative cancellation: the current step always completes; the
		// check happens between nodes.
		if err := ctx.Err(); err != nil {
			state.ShouldStop = true
			state.AppendLog("Execution cancelled before step: %s", step.Name)
			e.checkpoint(state)
			e.emitTerminal(wf, state)
			return state, NewError(KindCancelled, "execution cancelled before step %q: %v", step.Name, err)
		}

		e.runNode(ctx, step, i, state)
		e.checkpoint(state)

		if route := Router(state); route != RouteContinue {
			break
		}
	}

	e.emitTerminal(wf, state)
	return state, nil
}

// runNode executes one node body: status bookkeeping, the optional condition
// gate, dispatch with bounded retry, result examination, output folding, and
// the completion callback.
func (e *Engine) runNode(ctx context.Context, step *Step, index int, state *ExecutionState) {
	// A stopped or suspended graph never transitions another step out of
	// pending.
	if state.ShouldStop || state.WaitingApproval {
		return
	}

	state.MarkStep(step.ID, StepStatusRunning)
	state.CurrentStepIndex = index + 1
	state.AppendLog("Starting step: %s", step.Name)
	e.emit(Event{
		Type:        EventStepStarted,
		ExecutionID: state.ExecutionID,
		WorkflowID:  state.WorkflowID,
		StepID:      step.ID,
		StepName:    step.Name,
		Status:      StepStatusRunning,
		Message:     fmt.Sprintf("step %q started", step.Name),
		Timestamp:   time.Now(),
	})
	e.log("step started", "step", step.Name, "type", step.Type)

	// Optional per-step gate. An unmet condition skips the step leaving
	// variables untouched; evaluation errors count as unmet, matching the
	// forgiving gate semantics (the condition step type is strict instead).
	if step.Condition != "" {
		met, err := EvalCondition(step.Condition, state.Variables)
		if err != nil {
			e.log("step condition evaluation failed", "step", step.Name, "error", err)
			state.AppendLog("Condition evaluation failed for step %s: %v", step.Name, err)
			met = false
		}
		if !met {
			state.MarkStep(step.ID, StepStatusSkipped)
			state.StepOutputs[step.ID] = map[string]any{"skipped": true}
			state.AppendLog("Step skipped (condition not met): %s", step.Name)
			e.emit(Event{
				Type:        EventStepSkipped,
				ExecutionID: state.ExecutionID,
				WorkflowID:  state.WorkflowID,
				StepID:      step.ID,
				StepName:    step.Name,
				Status:      StepStatusSkipped,
				Message:     fmt.Sprintf("step %q skipped: condition not met", step.Name),
				Timestamp:   time.Now(),
			})
			e.log("step skipped", "step", step.Name)
			e.fireCallback(step, StepStatusSkipped, &StepResult{Success: true, Output: map[string]any{"skipped": true}}, 0)
			return
		}
	}

	started := time.Now()
	result := e.dispatchWithRetry(ctx, step, state)
	duration := time.Since(started)

	switch {
	case result.WaitingApproval:
		state.MarkStep(step.ID, StepStatusWaitingApproval)
		state.WaitingApproval = true
		state.ApprovalStepID = step.ID
		state.AppendLog("Waiting for approval: %s", step.Name)
		e.emit(Event{
			Type:        EventStepCompleted,
			ExecutionID: state.ExecutionID,
			WorkflowID:  state.WorkflowID,
			StepID:      step.ID,
			StepName:    step.Name,
			Status:      StepStatusWaitingApproval,
			Message:     fmt.Sprintf("step %q waiting for approval", step.Name),
			Timestamp:   time.Now(),
		})
		e.log("step waiting for approval", "step", step.Name)
		e.fireCallback(step, StepStatusWaitingApproval, result, duration)

	case result.Success:
		state.StepOutputs[step.ID] = result.Output
		e.foldOutputs(step, result, state)
		state.MarkStep(step.ID, StepStatusSuccess)
		state.AppendLog("Step completed successfully: %s (%.2fs)", step.Name, duration.Seconds())
		e.emit(Event{
			Type:        EventStepCompleted,
			ExecutionID: state.ExecutionID,
			WorkflowID:  state.WorkflowID,
			StepID:      step.ID,
			StepName:    step.Name,
			Status:      StepStatusSuccess,
			Message:     fmt.Sprintf("step %q completed", step.Name),
			Timestamp:   time.Now(),
		})
		e.log("step completed", "step", step.Name, "duration", duration)
		e.fireCallback(step, StepStatusSuccess, result, duration)

	default:
		state.MarkStep(step.ID, StepStatusFailed)
		state.AddError(step.ID, step.Name, result.Error)
		state.ShouldStop = true
		state.AppendLog("Step failed: %s - %s", step.Name, result.Error)
		e.emit(Event{
			Type:        EventStepFailed,
			ExecutionID: state.ExecutionID,
			WorkflowID:  state.WorkflowID,
			StepID:      step.ID,
			StepName:    step.Name,
			Status:      StepStatusFailed,
			Message:     fmt.Sprintf("step %q failed", step.Name),
			Error:       result.Error,
			Timestamp:   time.Now(),
		})
		e.log("step failed", "step", step.Name, "error", result.Error)
		e.fireCallback(step, StepStatusFailed, result, duration)
	}
}

// dispatchWithRetry invokes the step runner, retrying failed attempts when
// the step declares a retry_config. Attempt k (k >= 1) waits
// retry_delay_seconds * 2^(k-1) before re-dispatching. Retries never rewind
// graph state; only the final result is examined by the node body.
func (e *Engine) dispatchWithRetry(ctx context.Context, step *Step, state *ExecutionState) *StepResult {
	attempts := 1
	var delay time.Duration
	if step.Retry != nil && step.Retry.MaxRetries > 0 {
		attempts = step.Retry.MaxRetries + 1
		delay = time.Duration(step.Retry.RetryDelaySeconds * float64(time.Second))
	}

	var result *StepResult
	for k := 1; k <= attempts; k++ {
		result = e.safeRun(ctx, step, state)
		if result.Success || result.WaitingApproval {
			return result
		}
		if k == attempts {
			break
		}
		wait := delay * time.Duration(1<<(k-1))
		state.AppendLog("Retrying step %s (attempt %d/%d) after %s", step.Name, k+1, attempts, wait)
		e.log("retrying step", "step", step.Name, "attempt", k+1, "wait", wait)
		if !sleepCtx(ctx, wait) {
			return result
		}
	}
	return result
}

// safeRun calls the step runner with cloned maps and converts panics into
// internal_error failures rather than crashing the execution goroutine.
func (e *Engine) safeRun(ctx context.Context, step *Step, state *ExecutionState) (result *StepResult) {
	defer func() {
		if r := recover(); r != nil {
			result = FailureResult(NewError(KindInternal, "step %q panicked: %v", step.Name, r))
		}
	}()
	result = e.runner.RunStep(ctx, step, maps.Clone(state.Variables), maps.Clone(state.StepOutputs))
	if result == nil {
		result = FailureResult(NewError(KindInternal, "step %q returned no result", step.Name))
	}
	if result.Output == nil {
		result.Output = map[string]any{}
	}
	return result
}

// foldOutputs applies the step's output_mapping: each workflow variable is
// assigned the value at its key path inside the step output. A missing path
// logs a warning and leaves the variable unchanged.
func (e *Engine) foldOutputs(step *Step, result *StepResult, state *ExecutionState) {
	for varName, keyPath := range step.OutputMapping {
		value, ok := resolveOutputPath(result.Output, keyPath)
		if !ok {
			e.log("output path not found", "step", step.Name, "variable", varName, "path", keyPath)
			state.AppendLog("Output path %q not found for variable %q; leaving it unchanged", keyPath, varName)
			continue
		}
		state.Variables[varName] = value
	}
}

// resolveOutputPath walks a dotted key path into a step output. The leading
// "output" segment refers to the output map itself, so "output" and "" both
// resolve to the whole map. When a path does not resolve directly and the
// output carries a "data" payload (the API client's canonical shape), the
// walk is retried inside it.
func resolveOutputPath(output map[string]any, keyPath string) (any, bool) {
	path := strings.TrimSpace(keyPath)
	if path == "" || path == "output" {
		return output, true
	}
	segs := strings.Split(path, ".")
	if segs[0] == "output" {
		segs = segs[1:]
	}
	if len(segs) == 0 {
		return output, true
	}
	if v, ok := walkKeys(output, segs); ok {
		return v, true
	}
	if data, ok := output["data"]; ok {
		if v, ok := walkKeys(data, segs); ok {
			return v, true
		}
	}
	return nil, false
}

func walkKeys(v any, segs []string) (any, bool) {
	cur := v
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SortSteps returns the steps ordered by Order with ties broken by ID. The
// input slice is not modified.
func SortSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// checkpoint offers an immutable snapshot to the sink. Sink errors are
// logged, never fatal to the execution.
func (e *Engine) checkpoint(state *ExecutionState) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Save(state.ExecutionID, state.Clone()); err != nil {
		e.log("checkpoint save failed", "execution", state.ExecutionID, "error", err)
		return
	}
	e.emit(Event{
		Type:        EventCheckpointSaved,
		ExecutionID: state.ExecutionID,
		WorkflowID:  state.WorkflowID,
		Message:     "checkpoint saved",
		Timestamp:   time.Now(),
	})
}

// emitTerminal broadcasts the execution's closing event based on the final
// state.
func (e *Engine) emitTerminal(wf *Workflow, state *ExecutionState) {
	ev := Event{
		ExecutionID: state.ExecutionID,
		WorkflowID:  state.WorkflowID,
		Timestamp:   time.Now(),
	}
	switch {
	case state.WaitingApproval:
		ev.Type = EventExecutionWaiting
		ev.Message = fmt.Sprintf("workflow %q waiting for approval", wf.Name)
	case len(state.Errors) > 0:
		ev.Type = EventExecutionFailed
		ev.Message = fmt.Sprintf("workflow %q failed", wf.Name)
		ev.Error = state.Errors[0].Message
	case state.ShouldStop:
		ev.Type = EventExecutionFailed
		ev.Message = fmt.Sprintf("workflow %q stopped", wf.Name)
	default:
		ev.Type = EventExecutionCompleted
		ev.Message = fmt.Sprintf("workflow %q completed", wf.Name)
	}
	e.emit(ev)
	e.log("execution finished", "workflow", wf.Name, "execution", state.ExecutionID, "event", ev.Type)
}

// fireCallback invokes the registered step-completion hook, if any.
func (e *Engine) fireCallback(step *Step, status StepStatus, result *StepResult, duration time.Duration) {
	if e.onStepComplete == nil {
		return
	}
	e.onStepComplete(step, status, result, duration)
}

// emit sends ev with a non-blocking select; no-op when no channel is set.
func (e *Engine) emit(ev Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- ev:
	default:
	}
}

func (e *Engine) log(msg string, kvs ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Info(msg, kvs...)
}

// sleepCtx sleeps for d unless the context ends first. It reports whether
// the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
