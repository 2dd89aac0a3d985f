package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/magpieflow/magpie/internal/runner"
	"github.com/magpieflow/magpie/internal/workflow"
)

// errResumeAborted is returned when the user dismisses the approval prompt
// without deciding. The execution stays in waiting_approval.
var errResumeAborted = errors.New("resume aborted; execution still waiting for approval")

// resumeFlags holds the flag values for the resume command.
type resumeFlags struct {
	Approve bool // --approve, skip the prompt and approve
	Reject  bool // --reject, skip the prompt and reject
	JSON    bool // --json for structured output
}

// newResumeCmd creates the "magpie resume" command.
func newResumeCmd() *cobra.Command {
	var flags resumeFlags

	cmd := &cobra.Command{
		Use:   "resume <execution-id>",
		Short: "Approve or reject an execution waiting for approval",
		Long: `Resume an execution paused at an approval step. Approving marks the
approval step successful and runs the remaining steps; rejecting cancels
the execution.

Without --approve or --reject the command prompts interactively, which
requires a terminal.`,
		Example: `  # Decide interactively
  magpie resume 4fa2cbb7-6c1e-4a3e-9f5d-8b7a31c90210

  # Approve from a script
  magpie resume 4fa2cbb7 --approve

  # Reject
  magpie resume 4fa2cbb7 --reject`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd, args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.Approve, "approve", false, "Approve without prompting")
	cmd.Flags().BoolVar(&flags.Reject, "reject", false, "Reject without prompting")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Output the resulting execution as JSON to stdout")

	return cmd
}

func init() {
	rootCmd.AddCommand(newResumeCmd())
}

// runResume loads the waiting execution, settles the decision, and hands it
// to the runner.
func runResume(cmd *cobra.Command, executionID string, flags resumeFlags) error {
	if flags.Approve && flags.Reject {
		return errors.New("--approve and --reject are mutually exclusive")
	}

	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	detail, err := rt.runner.Detail(executionID)
	if err != nil {
		return fmt.Errorf("loading execution %s: %w", executionID, err)
	}
	if detail.Execution.Status != workflow.ExecWaitingApproval {
		return fmt.Errorf("execution %s is %s, not waiting for approval", executionID, detail.Execution.Status)
	}

	approve := flags.Approve
	if !flags.Approve && !flags.Reject {
		if !isTerminal(os.Stdin) {
			return errors.New("stdin is not a terminal; pass --approve or --reject")
		}
		approve, err = confirmApproval(detail)
		if err != nil {
			return err
		}
	}

	// Approval resumes the engine, so the remaining steps run under the
	// same signal handling as a fresh run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var exec = detail.Execution
	if approve {
		exec, err = rt.runner.Approve(ctx, executionID)
	} else {
		exec, err = rt.runner.Reject(executionID)
	}
	if err != nil {
		return fmt.Errorf("resuming execution %s: %w", executionID, err)
	}

	if flags.JSON {
		return encodeJSON(cmd.OutOrStdout(), exec)
	}

	printRunOutcome(cmd, exec)
	if exec.Status == workflow.ExecFailed {
		return fmt.Errorf("execution %s failed: %s", exec.ID, exec.ErrorMessage)
	}
	return nil
}

// confirmApproval prompts for the decision. Returns true to approve.
func confirmApproval(detail *runner.ExecutionDetail) (bool, error) {
	exec := detail.Execution

	desc := fmt.Sprintf("Workflow %q, started %s.", exec.WorkflowName, formatTimePtr(exec.StartedAt))
	for _, s := range detail.Steps {
		if s.Status == workflow.StepStatusWaitingApproval {
			desc = fmt.Sprintf("Workflow %q is paused at step %q.", exec.WorkflowName, s.StepName)
			break
		}
	}

	approve := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Approve execution %s?", shortID(exec.ID))).
				Description(desc).
				Affirmative("Approve").
				Negative("Reject").
				Value(&approve),
		),
	).
		WithTheme(huh.ThemeCharm()).
		WithWidth(80)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, errResumeAborted
		}
		return false, fmt.Errorf("reading decision: %w", err)
	}
	return approve, nil
}

// isTerminal reports whether f is connected to a terminal (TTY).
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
