package runner

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/workflow"
)

// Retry re-runs a finished execution as a brand new one, seeding its input
// from the prior run's final variables so the new run starts where the old
// one left its data. The new execution runs from step 0.
func (r *Runner) Retry(ctx context.Context, executionID string) (*store.Execution, error) {
	prior, err := r.store.GetExecution(executionID)
	if err != nil {
		return nil, fmt.Errorf("loading execution: %w", err)
	}
	input := prior.OutputData
	if len(input) == 0 {
		input = prior.InputData
	}
	r.logger.Info("retrying execution", "execution", executionID, "workflow", prior.WorkflowID)
	return r.Execute(ctx, RunRequest{
		WorkflowID: prior.WorkflowID,
		InputData:  input,
		TriggerID:  prior.TriggerID,
	})
}

// Approve resumes a suspended execution: the approval step is marked
// successful and the engine continues from the step after it.
func (r *Runner) Approve(ctx context.Context, executionID string) (*store.Execution, error) {
	exec, wf, err := r.loadWaiting(executionID)
	if err != nil {
		return nil, err
	}

	state, rows, approvalRow, err := r.rebuildState(exec, wf)
	if err != nil {
		return nil, err
	}

	// Clear the suspension before re-entering the engine: the approval step
	// becomes terminal so the resume loop starts after it.
	now := time.Now().UTC()
	state.StepStatuses[approvalRow.StepID] = workflow.StepStatusSuccess
	state.WaitingApproval = false
	state.ApprovalStepID = ""
	state.AppendLog("Approval granted for step: %s", approvalRow.StepName)

	approvalRow.Status = workflow.StepStatusSuccess
	approvalRow.CompletedAt = &now
	if approvalRow.OutputData == nil {
		approvalRow.OutputData = map[string]any{}
	}
	approvalRow.OutputData["approved"] = true
	if err := r.store.PutStepExecution(approvalRow); err != nil {
		return nil, fmt.Errorf("updating approval step row: %w", err)
	}
	state.StepOutputs[approvalRow.StepID] = approvalRow.OutputData

	r.logger.Info("execution approved", "execution", executionID, "step", approvalRow.StepName)

	eng := r.engine(r.persistStep(rows))
	final, runErr := eng.Execute(ctx, wf, state)
	return r.finalize(exec, final, runErr)
}

// Reject terminates a suspended execution as cancelled.
func (r *Runner) Reject(executionID string) (*store.Execution, error) {
	exec, _, err := r.loadWaiting(executionID)
	if err != nil {
		return nil, err
	}
	exec.Status = workflow.ExecCancelled
	exec.ErrorMessage = "approval rejected by user"
	exec.Logs = append(exec.Logs, "Approval rejected; execution cancelled")
	r.stamp(exec)
	if err := r.store.UpdateExecution(exec); err != nil {
		return nil, fmt.Errorf("updating execution %s: %w", executionID, err)
	}
	r.logger.Info("execution rejected", "execution", executionID)
	return exec, nil
}

// Cancel marks a pending, running, or suspended execution as cancelled. The
// running goroutine, if any, stops cooperatively through its own context;
// Cancel only settles the row.
func (r *Runner) Cancel(executionID string) (*store.Execution, error) {
	exec, err := r.store.GetExecution(executionID)
	if err != nil {
		return nil, fmt.Errorf("loading execution: %w", err)
	}
	if exec.Status.Terminal() {
		return nil, fmt.Errorf("execution %s already finished as %s", executionID, exec.Status)
	}
	exec.Status = workflow.ExecCancelled
	r.stamp(exec)
	if err := r.store.UpdateExecution(exec); err != nil {
		return nil, fmt.Errorf("updating execution %s: %w", executionID, err)
	}
	r.logger.Info("execution cancelled", "execution", executionID)
	return exec, nil
}

// loadWaiting fetches an execution and its workflow, requiring the execution
// to be suspended on an approval.
func (r *Runner) loadWaiting(executionID string) (*store.Execution, *workflow.Workflow, error) {
	exec, err := r.store.GetExecution(executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading execution: %w", err)
	}
	if exec.Status != workflow.ExecWaitingApproval {
		return nil, nil, fmt.Errorf("execution %s is not waiting for approval (status %s)", executionID, exec.Status)
	}
	wf, err := r.store.GetWorkflow(exec.WorkflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading workflow: %w", err)
	}
	return exec, wf, nil
}

// rebuildState reconstructs the engine state of a suspended execution from
// its persisted rows: variables from the execution's saved snapshot, step
// statuses and outputs from the step rows.
func (r *Runner) rebuildState(exec *store.Execution, wf *workflow.Workflow) (*workflow.ExecutionState, map[string]*store.StepExecution, *store.StepExecution, error) {
	stepRows, err := r.store.ListStepExecutions(exec.ID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading step rows: %w", err)
	}

	vars := maps.Clone(exec.OutputData)
	if vars == nil {
		vars = make(map[string]any)
	}
	state := &workflow.ExecutionState{
		WorkflowID:      wf.ID,
		ExecutionID:     exec.ID,
		StepStatuses:    make(map[string]workflow.StepStatus, len(stepRows)),
		Variables:       vars,
		StepOutputs:     make(map[string]any, len(stepRows)),
		Errors:          []workflow.StepError{},
		Logs:            append([]string{}, exec.Logs...),
		WaitingApproval: true,
	}

	rows := make(map[string]*store.StepExecution, len(stepRows))
	var approvalRow *store.StepExecution
	for _, row := range stepRows {
		rows[row.StepID] = row
		state.StepStatuses[row.StepID] = row.Status
		if row.OutputData != nil {
			state.StepOutputs[row.StepID] = row.OutputData
		}
		if row.Status == workflow.StepStatusWaitingApproval {
			approvalRow = row
			state.ApprovalStepID = row.StepID
		}
	}
	if approvalRow == nil {
		return nil, nil, nil, fmt.Errorf("execution %s has no step waiting for approval", exec.ID)
	}
	return state, rows, approvalRow, nil
}
