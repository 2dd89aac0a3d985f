package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/magpieflow/magpie/internal/runner"
	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/workflow"
)

// Shared lipgloss styles for status-colored output. --no-color strips the
// ANSI because the root PersistentPreRunE sets the Ascii color profile.
var (
	styleHeader = lipgloss.NewStyle().Bold(true)
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // green
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	styleBad    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // dark gray
)

// statusFlags holds the flag values for the status command.
type statusFlags struct {
	Workflow string // --workflow <id>, filter the list and stats
	Limit    int    // --limit, max rows in the list view
	Days     int    // --days, statistics window
	JSON     bool   // --json for structured output
}

// statusListOutput is the top-level JSON output for the list view.
type statusListOutput struct {
	Executions []*store.Execution `json:"executions"`
	Stats      *runner.Stats      `json:"stats"`
}

// newStatusCmd creates the "magpie status" command.
func newStatusCmd() *cobra.Command {
	var flags statusFlags

	cmd := &cobra.Command{
		Use:   "status [execution-id]",
		Short: "Show execution history and statistics",
		Long: `Without arguments, list recent executions with aggregate statistics.
With an execution ID, show that execution in full: its step rows, timings,
output data, and logs.

Use --json for structured output suitable for scripting.`,
		Example: `  # Recent executions across all workflows
  magpie status

  # One execution in full
  magpie status 4fa2cbb7-6c1e-4a3e-9f5d-8b7a31c90210

  # Statistics for a single workflow over the last week
  magpie status --workflow 7f3a... --days 7

  # Structured JSON output
  magpie status --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.Workflow, "workflow", "", "Filter to one workflow ID")
	cmd.Flags().IntVar(&flags.Limit, "limit", 20, "Maximum executions to list")
	cmd.Flags().IntVar(&flags.Days, "days", 30, "Statistics window in days")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Output structured JSON to stdout")

	return cmd
}

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

// runStatus dispatches between the detail view (with an execution ID) and
// the list view.
func runStatus(cmd *cobra.Command, args []string, flags statusFlags) error {
	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	if len(args) == 1 {
		return runStatusDetail(cmd, rt, args[0], flags.JSON)
	}
	return runStatusList(cmd, rt, flags)
}

// runStatusDetail shows one execution with its step rows.
func runStatusDetail(cmd *cobra.Command, rt *runtime, executionID string, jsonOut bool) error {
	detail, err := rt.runner.Detail(executionID)
	if err != nil {
		return fmt.Errorf("loading execution %s: %w", executionID, err)
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(detail)
	}

	renderExecutionDetail(cmd.ErrOrStderr(), detail)
	return nil
}

// runStatusList shows recent executions plus aggregate statistics.
func runStatusList(cmd *cobra.Command, rt *runtime, flags statusFlags) error {
	execs, err := rt.runner.List(runner.ListOptions{
		WorkflowID: flags.Workflow,
		Limit:      flags.Limit,
	})
	if err != nil {
		return fmt.Errorf("listing executions: %w", err)
	}
	stats, err := rt.runner.Stats(flags.Workflow, flags.Days)
	if err != nil {
		return fmt.Errorf("computing statistics: %w", err)
	}

	if flags.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statusListOutput{Executions: execs, Stats: stats})
	}

	out := cmd.ErrOrStderr()
	fmt.Fprint(out, renderStats(stats))
	fmt.Fprintln(out)

	if len(execs) == 0 {
		fmt.Fprintln(out, "No executions recorded.")
		return nil
	}
	renderExecutionsTable(out, execs)
	return nil
}

// renderStats returns the aggregate summary block with a success-rate bar.
//
//	Magpie Status - last 30 days
//	============================
//	████████████░░░░░░░░ 75% success (12/16)
//	12 success, 3 failed, 1 waiting approval - avg 4.2s
func renderStats(stats *runner.Stats) string {
	const barWidth = 40

	title := fmt.Sprintf("Magpie Status - last %d days", stats.PeriodDays)

	var sb strings.Builder
	sb.WriteString(styleHeader.Render(title))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", len(title)))
	sb.WriteString("\n")

	if stats.Total == 0 {
		sb.WriteString("No executions in this window.\n")
		return sb.String()
	}

	// Static success-rate bar via bubbles/progress ViewAs. WithoutPercentage
	// because the fraction line carries the number.
	bar := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)
	sb.WriteString(bar.ViewAs(stats.SuccessRate / 100))
	sb.WriteString(fmt.Sprintf(" %.0f%% success (%d/%d)\n", stats.SuccessRate, stats.Success, stats.Total))

	var parts []string
	if stats.Success > 0 {
		parts = append(parts, styleOK.Render(fmt.Sprintf("%d success", stats.Success)))
	}
	if stats.Failed > 0 {
		parts = append(parts, styleBad.Render(fmt.Sprintf("%d failed", stats.Failed)))
	}
	if stats.Running > 0 {
		parts = append(parts, styleWarn.Render(fmt.Sprintf("%d running", stats.Running)))
	}
	if stats.WaitingApproval > 0 {
		parts = append(parts, styleWarn.Render(fmt.Sprintf("%d waiting approval", stats.WaitingApproval)))
	}
	if stats.Cancelled > 0 {
		parts = append(parts, styleDim.Render(fmt.Sprintf("%d cancelled", stats.Cancelled)))
	}
	if stats.Pending > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", stats.Pending))
	}
	if len(parts) > 0 {
		sb.WriteString(strings.Join(parts, ", "))
		if stats.AverageDurationSeconds > 0 {
			sb.WriteString(fmt.Sprintf(" - avg %.1fs", stats.AverageDurationSeconds))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// renderExecutionsTable writes a tabwriter-aligned table of executions.
func renderExecutionsTable(w io.Writer, execs []*store.Execution) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "EXECUTION\tWORKFLOW\tVER\tSTATUS\tSTARTED\tDURATION")
	fmt.Fprintln(tw, "---------\t--------\t---\t------\t-------\t--------")
	for _, e := range execs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			shortID(e.ID),
			e.WorkflowName,
			e.WorkflowVersion,
			renderExecStatus(e.Status),
			formatTimePtr(e.StartedAt),
			formatDuration(e.DurationSeconds),
		)
	}
}

// renderExecutionDetail writes the full view of one execution.
func renderExecutionDetail(w io.Writer, detail *runner.ExecutionDetail) {
	e := detail.Execution

	title := fmt.Sprintf("Execution %s", e.ID)
	fmt.Fprintln(w, styleHeader.Render(title))
	fmt.Fprintln(w, strings.Repeat("=", len(title)))
	fmt.Fprintf(w, "Workflow:  %s (version %d)\n", e.WorkflowName, e.WorkflowVersion)
	fmt.Fprintf(w, "Status:    %s\n", renderExecStatus(e.Status))
	fmt.Fprintf(w, "Started:   %s\n", formatTimePtr(e.StartedAt))
	fmt.Fprintf(w, "Completed: %s\n", formatTimePtr(e.CompletedAt))
	fmt.Fprintf(w, "Duration:  %s\n", formatDuration(e.DurationSeconds))
	if e.TriggerID != "" {
		fmt.Fprintf(w, "Trigger:   %s\n", e.TriggerID)
	}
	if e.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:     %s\n", styleBad.Render(e.ErrorMessage))
	}
	fmt.Fprintln(w)

	if len(detail.Steps) > 0 {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  STEP\tTYPE\tSTATUS\tDURATION\tRETRIES")
		for _, s := range detail.Steps {
			retries := ""
			if s.RetryCount > 0 {
				retries = fmt.Sprintf("%d", s.RetryCount)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
				s.StepName,
				s.StepType,
				renderStepStatus(s.Status),
				formatDuration(s.DurationSeconds),
				retries,
			)
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	if len(e.OutputData) > 0 {
		if data, err := json.MarshalIndent(e.OutputData, "", "  "); err == nil {
			fmt.Fprintln(w, styleHeader.Render("Output"))
			fmt.Fprintln(w, string(data))
			fmt.Fprintln(w)
		}
	}

	if len(e.Logs) > 0 {
		fmt.Fprintln(w, styleHeader.Render("Logs"))
		for _, line := range e.Logs {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

// renderExecStatus colors an execution status for terminal display.
func renderExecStatus(s workflow.ExecutionStatus) string {
	switch s {
	case workflow.ExecSuccess:
		return styleOK.Render(string(s))
	case workflow.ExecFailed:
		return styleBad.Render(string(s))
	case workflow.ExecRunning, workflow.ExecPending, workflow.ExecWaitingApproval:
		return styleWarn.Render(string(s))
	case workflow.ExecCancelled:
		return styleDim.Render(string(s))
	default:
		return string(s)
	}
}

// renderStepStatus colors a step status for terminal display.
func renderStepStatus(s workflow.StepStatus) string {
	switch s {
	case workflow.StepStatusSuccess:
		return styleOK.Render(string(s))
	case workflow.StepStatusFailed:
		return styleBad.Render(string(s))
	case workflow.StepStatusRunning, workflow.StepStatusWaitingApproval:
		return styleWarn.Render(string(s))
	case workflow.StepStatusSkipped:
		return styleDim.Render(string(s))
	default:
		return string(s)
	}
}

// shortID truncates a UUID for table display. Full IDs stay available via
// --json and the detail view.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatTimePtr renders an optional timestamp in local time.
func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatDuration renders seconds compactly: sub-minute as seconds, longer
// durations as m+s.
func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	d := time.Duration(seconds * float64(time.Second))
	return d.Round(time.Second).String()
}
