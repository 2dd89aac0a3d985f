package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/magpieflow/magpie/internal/runner"
	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/workflow"
)

func TestRenderStatsEmptyWindow(t *testing.T) {
	out := renderStats(&runner.Stats{PeriodDays: 7})
	assert.Contains(t, out, "last 7 days")
	assert.Contains(t, out, "No executions in this window.")
}

func TestRenderStatsCountsAndRate(t *testing.T) {
	out := renderStats(&runner.Stats{
		PeriodDays:             30,
		Total:                  16,
		Success:                12,
		Failed:                 3,
		WaitingApproval:        1,
		SuccessRate:            75,
		AverageDurationSeconds: 4.2,
	})

	assert.Contains(t, out, "75% success (12/16)")
	assert.Contains(t, out, "12 success")
	assert.Contains(t, out, "3 failed")
	assert.Contains(t, out, "1 waiting approval")
	assert.Contains(t, out, "avg 4.2s")
}

func TestRenderExecutionsTable(t *testing.T) {
	started := time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	renderExecutionsTable(&buf, []*store.Execution{
		{
			ID:              "4fa2cbb7-6c1e-4a3e-9f5d-8b7a31c90210",
			WorkflowName:    "daily-report",
			WorkflowVersion: 3,
			Status:          workflow.ExecSuccess,
			StartedAt:       &started,
			DurationSeconds: 2.4,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "4fa2cbb7")
	assert.NotContains(t, out, "4fa2cbb7-6c1e") // table shows short ids
	assert.Contains(t, out, "daily-report")
	assert.Contains(t, out, "2.4s")
}

func TestRenderExecutionDetailShowsStepsAndError(t *testing.T) {
	var buf bytes.Buffer
	renderExecutionDetail(&buf, &runner.ExecutionDetail{
		Execution: &store.Execution{
			ID:           "e1",
			WorkflowName: "digest",
			Status:       workflow.ExecFailed,
			ErrorMessage: "boom",
			Logs:         []string{"step 2 stderr tail"},
		},
		Steps: []*store.StepExecution{
			{StepName: "fetch", StepType: workflow.StepAPICall, Status: workflow.StepStatusSuccess, DurationSeconds: 1.1},
			{StepName: "crunch", StepType: workflow.StepPythonScript, Status: workflow.StepStatusFailed, RetryCount: 2},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Execution e1")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "fetch")
	assert.Contains(t, out, "crunch")
	assert.Contains(t, out, "step 2 stderr tail")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "4fa2cbb7", shortID("4fa2cbb7-6c1e-4a3e-9f5d-8b7a31c90210"))
	assert.Equal(t, "short", shortID("short"))
	assert.Equal(t, "", shortID(""))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "-", formatDuration(0))
	assert.Equal(t, "-", formatDuration(-1))
	assert.Equal(t, "2.4s", formatDuration(2.4))
	assert.Equal(t, "1m30s", formatDuration(90))
}

func TestFormatTimePtr(t *testing.T) {
	assert.Equal(t, "-", formatTimePtr(nil))

	ts := time.Date(2026, 8, 25, 9, 30, 0, 0, time.Local)
	assert.True(t, strings.HasPrefix(formatTimePtr(&ts), "2026-08-25"))
}
