package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpieflow/magpie/internal/workflow"
)

func sampleWorkflow(name string) *workflow.Workflow {
	return &workflow.Workflow{
		Name:        name,
		Description: "test workflow",
		Steps: []workflow.Step{
			{Order: 1, Name: "second", Type: workflow.StepNotification, Config: map[string]any{"message": "done"}},
			{Order: 0, Name: "first", Type: workflow.StepCondition, Config: map[string]any{"condition": "x > 1"}},
		},
		Variables: map[string]any{"x": float64(2)},
	}
}

func TestSaveWorkflow_Create(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	wf := sampleWorkflow("greet")
	require.NoError(t, s.SaveWorkflow(wf, ""))

	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, 1, wf.Version)
	assert.Equal(t, workflow.WorkflowDraft, wf.Status)
	assert.False(t, wf.CreatedAt.IsZero())

	// Steps normalized: sorted by order, IDs assigned, workflow backref set.
	require.Len(t, wf.Steps, 2)
	assert.Equal(t, "first", wf.Steps[0].Name)
	assert.Equal(t, "second", wf.Steps[1].Name)
	for _, st := range wf.Steps {
		assert.NotEmpty(t, st.ID)
		assert.Equal(t, wf.ID, st.WorkflowID)
	}

	versions, err := s.ListVersions(wf.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, "Initial version", versions[0].ChangeSummary)
	require.NotNil(t, versions[0].Snapshot)
	assert.Equal(t, "greet", versions[0].Snapshot.Name)
}

func TestSaveWorkflow_UpdateBumpsVersion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	wf := sampleWorkflow("greet")
	require.NoError(t, s.SaveWorkflow(wf, ""))
	created := wf.CreatedAt

	wf.Name = "greet v2"
	require.NoError(t, s.SaveWorkflow(wf, "renamed"))

	assert.Equal(t, 2, wf.Version)
	assert.Equal(t, created, wf.CreatedAt)

	versions, err := s.ListVersions(wf.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	// Newest first.
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, "renamed", versions[0].ChangeSummary)
	assert.Equal(t, 1, versions[1].Version)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.GetWorkflow("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListWorkflows_NewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	a := sampleWorkflow("alpha")
	require.NoError(t, s.SaveWorkflow(a, ""))
	time.Sleep(2 * time.Millisecond)
	b := sampleWorkflow("beta")
	require.NoError(t, s.SaveWorkflow(b, ""))

	list, err := s.ListWorkflows()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "beta", list[0].Name)
	assert.Equal(t, "alpha", list[1].Name)
}

func TestDeleteWorkflow_Cascades(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	wf := sampleWorkflow("doomed")
	require.NoError(t, s.SaveWorkflow(wf, ""))

	exec := &Execution{WorkflowID: wf.ID, Status: workflow.ExecSuccess}
	require.NoError(t, s.CreateExecution(exec))
	require.NoError(t, s.PutStepExecution(&StepExecution{
		ExecutionID: exec.ID,
		StepID:      wf.Steps[0].ID,
		StepName:    wf.Steps[0].Name,
		Order:       0,
		Status:      workflow.StepStatusSuccess,
	}))
	trig := &Trigger{WorkflowID: wf.ID, Name: "nightly", Type: TriggerScheduled, Config: map[string]any{"cron": "0 9 * * *"}}
	require.NoError(t, s.CreateTrigger(trig))

	require.NoError(t, s.DeleteWorkflow(wf.ID))

	_, err := s.GetWorkflow(wf.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetExecution(exec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rows, err := s.ListStepExecutions(exec.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	versions, err := s.ListVersions(wf.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)

	triggers, err := s.ListTriggers(wf.ID)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestDeleteWorkflow_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	assert.ErrorIs(t, s.DeleteWorkflow("missing"), ErrNotFound)
}

func TestRestoreVersion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	wf := sampleWorkflow("original name")
	require.NoError(t, s.SaveWorkflow(wf, ""))

	wf.Name = "renamed"
	wf.Tags = []string{"keep-me"}
	require.NoError(t, s.SaveWorkflow(wf, "renamed"))

	restored, err := s.RestoreVersion(wf.ID, 1)
	require.NoError(t, err)

	// Restore moves history forward: version 3 carrying version 1's content.
	assert.Equal(t, 3, restored.Version)
	assert.Equal(t, "original name", restored.Name)
	// Fields outside the snapshot scope survive.
	assert.Equal(t, []string{"keep-me"}, restored.Tags)

	versions, err := s.ListVersions(wf.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "Restored to version 1", versions[0].ChangeSummary)
}

func TestGetVersion_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	wf := sampleWorkflow("wf")
	require.NoError(t, s.SaveWorkflow(wf, ""))

	_, err := s.GetVersion(wf.ID, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetVersion("missing-workflow", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
