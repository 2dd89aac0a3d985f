package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCancelCmd creates the "magpie cancel" command.
func newCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel an execution that has not finished",
		Long: `Mark a pending, running, or waiting execution as cancelled. A run that is
mid-step finishes that step before the engine observes the cancellation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancel(cmd, args[0])
		},
	}
	return cmd
}

func init() {
	rootCmd.AddCommand(newCancelCmd())
}

func runCancel(cmd *cobra.Command, executionID string) error {
	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	exec, err := rt.runner.Cancel(executionID)
	if err != nil {
		return fmt.Errorf("cancelling execution %s: %w", executionID, err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Execution %s cancelled (workflow %q)\n", shortID(exec.ID), exec.WorkflowName)
	return nil
}
