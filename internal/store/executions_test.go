package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpieflow/magpie/internal/workflow"
)

func TestCreateExecution_Defaults(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e := &Execution{WorkflowID: "wf-1"}
	require.NoError(t, s.CreateExecution(e))

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, workflow.ExecPending, e.Status)
	assert.False(t, e.CreatedAt.IsZero())

	got, err := s.GetExecution(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
}

func TestCreateExecution_DuplicateID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e := &Execution{ID: "fixed", WorkflowID: "wf-1"}
	require.NoError(t, s.CreateExecution(e))
	assert.ErrorIs(t, s.CreateExecution(&Execution{ID: "fixed", WorkflowID: "wf-1"}), ErrDuplicate)
}

func TestUpdateExecution(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e := &Execution{WorkflowID: "wf-1"}
	require.NoError(t, s.CreateExecution(e))

	e.Status = workflow.ExecRunning
	require.NoError(t, s.UpdateExecution(e))

	got, err := s.GetExecution(e.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecRunning, got.Status)
}

func TestUpdateExecution_TerminalIsImmutable(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e := &Execution{WorkflowID: "wf-1", Status: workflow.ExecSuccess}
	require.NoError(t, s.CreateExecution(e))

	e.ErrorMessage = "rewriting history"
	assert.ErrorIs(t, s.UpdateExecution(e), ErrImmutable)
}

func TestSetExecutionAnnotation_AllowedOnTerminal(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e := &Execution{WorkflowID: "wf-1", Status: workflow.ExecFailed}
	require.NoError(t, s.CreateExecution(e))

	require.NoError(t, s.SetExecutionAnnotation(e.ID, "triage", "known flake"))

	got, err := s.GetExecution(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "known flake", got.Annotations["triage"])
	assert.Equal(t, workflow.ExecFailed, got.Status)
}

func TestListExecutions_FilterOrderLimit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	base := time.Now().UTC()
	for i, wfID := range []string{"wf-a", "wf-b", "wf-a"} {
		require.NoError(t, s.CreateExecution(&Execution{
			ID:         []string{"e1", "e2", "e3"}[i],
			WorkflowID: wfID,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := s.ListExecutions("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e3", all[0].ID)
	assert.Equal(t, "e1", all[2].ID)

	onlyA, err := s.ListExecutions("wf-a", 0)
	require.NoError(t, err)
	require.Len(t, onlyA, 2)
	assert.Equal(t, "e3", onlyA[0].ID)

	limited, err := s.ListExecutions("", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDeleteExecution_RemovesStepRows(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e := &Execution{WorkflowID: "wf-1"}
	require.NoError(t, s.CreateExecution(e))
	require.NoError(t, s.PutStepExecution(&StepExecution{
		ExecutionID: e.ID, StepID: "s1", Order: 0, Status: workflow.StepStatusSuccess,
	}))

	require.NoError(t, s.DeleteExecution(e.ID))

	_, err := s.GetExecution(e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	rows, err := s.ListStepExecutions(e.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCleanupExecutions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	recent := time.Now().UTC()

	require.NoError(t, s.CreateExecution(&Execution{ID: "old-ok", WorkflowID: "wf", Status: workflow.ExecSuccess, CreatedAt: old}))
	require.NoError(t, s.CreateExecution(&Execution{ID: "old-failed", WorkflowID: "wf", Status: workflow.ExecFailed, CreatedAt: old}))
	require.NoError(t, s.CreateExecution(&Execution{ID: "fresh", WorkflowID: "wf", Status: workflow.ExecSuccess, CreatedAt: recent}))

	cutoff := time.Now().UTC().Add(-90 * 24 * time.Hour)
	deleted, err := s.CleanupExecutions(cutoff, true)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.GetExecution("old-ok")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetExecution("old-failed")
	assert.NoError(t, err)
	_, err = s.GetExecution("fresh")
	assert.NoError(t, err)

	// Without keepFailed the old failure goes too.
	deleted, err = s.CleanupExecutions(cutoff, false)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestPutStepExecution_UpsertAndOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	e := &Execution{WorkflowID: "wf-1"}
	require.NoError(t, s.CreateExecution(e))

	require.NoError(t, s.PutStepExecution(&StepExecution{
		ExecutionID: e.ID, StepID: "s2", StepName: "second", Order: 1, Status: workflow.StepStatusPending,
	}))
	require.NoError(t, s.PutStepExecution(&StepExecution{
		ExecutionID: e.ID, StepID: "s1", StepName: "first", Order: 0, Status: workflow.StepStatusPending,
	}))
	// Re-put of the same step replaces the row instead of adding one.
	require.NoError(t, s.PutStepExecution(&StepExecution{
		ExecutionID: e.ID, StepID: "s1", StepName: "first", Order: 0,
		Status: workflow.StepStatusSuccess, RetryCount: 1,
	}))

	rows, err := s.ListStepExecutions(e.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "first", rows[0].StepName)
	assert.Equal(t, workflow.StepStatusSuccess, rows[0].Status)
	assert.Equal(t, 1, rows[0].RetryCount)
	assert.Equal(t, "second", rows[1].StepName)
}

func TestPutStepExecution_RequiresExecutionID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.PutStepExecution(&StepExecution{StepID: "s1"})
	assert.Error(t, err)
}

func TestListStepExecutions_UnknownExecution(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	rows, err := s.ListStepExecutions("nope")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
