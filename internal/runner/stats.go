package runner

import (
	"fmt"
	"time"

	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/workflow"
)

const (
	defaultStatsDays   = 30
	defaultCleanupDays = 90
)

// ExecutionDetail is one execution with its step rows, in step order.
type ExecutionDetail struct {
	Execution *store.Execution       `json:"execution"`
	Steps     []*store.StepExecution `json:"steps"`
}

// Detail assembles the full picture of one execution.
func (r *Runner) Detail(executionID string) (*ExecutionDetail, error) {
	exec, err := r.store.GetExecution(executionID)
	if err != nil {
		return nil, fmt.Errorf("loading execution: %w", err)
	}
	steps, err := r.store.ListStepExecutions(executionID)
	if err != nil {
		return nil, fmt.Errorf("loading step rows: %w", err)
	}
	return &ExecutionDetail{Execution: exec, Steps: steps}, nil
}

// ListOptions filters List.
type ListOptions struct {
	WorkflowID string
	Status     workflow.ExecutionStatus
	Limit      int
}

// List returns executions newest first.
func (r *Runner) List(opts ListOptions) ([]*store.Execution, error) {
	execs, err := r.store.ListExecutions(opts.WorkflowID, 0)
	if err != nil {
		return nil, err
	}
	if opts.Status != "" {
		filtered := execs[:0]
		for _, e := range execs {
			if e.Status == opts.Status {
				filtered = append(filtered, e)
			}
		}
		execs = filtered
	}
	if opts.Limit > 0 && len(execs) > opts.Limit {
		execs = execs[:opts.Limit]
	}
	return execs, nil
}

// Stats summarizes execution outcomes over a trailing window.
type Stats struct {
	Total                  int     `json:"total"`
	Success                int     `json:"success"`
	Failed                 int     `json:"failed"`
	Running                int     `json:"running"`
	Pending                int     `json:"pending"`
	WaitingApproval        int     `json:"waiting_approval"`
	Cancelled              int     `json:"cancelled"`
	SuccessRate            float64 `json:"success_rate"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
	PeriodDays             int     `json:"period_days"`
}

// Stats computes counts by status, the success rate, and the average
// duration of completed executions within the last days days. A zero or
// negative days uses the 30-day default.
func (r *Runner) Stats(workflowID string, days int) (*Stats, error) {
	if days <= 0 {
		days = defaultStatsDays
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	execs, err := r.store.ListExecutions(workflowID, 0)
	if err != nil {
		return nil, err
	}

	stats := &Stats{PeriodDays: days}
	var durations float64
	var completed int
	for _, e := range execs {
		if e.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		switch e.Status {
		case workflow.ExecSuccess:
			stats.Success++
		case workflow.ExecFailed:
			stats.Failed++
		case workflow.ExecRunning:
			stats.Running++
		case workflow.ExecPending:
			stats.Pending++
		case workflow.ExecWaitingApproval:
			stats.WaitingApproval++
		case workflow.ExecCancelled:
			stats.Cancelled++
		}
		if e.CompletedAt != nil {
			durations += e.DurationSeconds
			completed++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Success) / float64(stats.Total) * 100
	}
	if completed > 0 {
		stats.AverageDurationSeconds = durations / float64(completed)
	}
	return stats, nil
}

// Cleanup deletes executions older than days days, keeping failed rows when
// keepFailed is set. It returns how many were removed.
func (r *Runner) Cleanup(days int, keepFailed bool) (int, error) {
	if days <= 0 {
		days = defaultCleanupDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	n, err := r.store.CleanupExecutions(cutoff, keepFailed)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("cleaned up old executions", "deleted", n, "older_than_days", days)
	}
	return n, nil
}
