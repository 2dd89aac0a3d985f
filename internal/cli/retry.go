package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/magpieflow/magpie/internal/workflow"
)

// retryFlags holds the flag values for the retry command.
type retryFlags struct {
	JSON bool // --json for structured output
}

// newRetryCmd creates the "magpie retry" command.
func newRetryCmd() *cobra.Command {
	var flags retryFlags

	cmd := &cobra.Command{
		Use:   "retry <execution-id>",
		Short: "Re-run a failed execution as a new execution",
		Long: `Start a fresh execution of the same workflow, seeded with the variables the
failed run had accumulated. The failed execution is left untouched; the
retry gets its own ID and history.`,
		Example: `  # Retry a failed execution
  magpie retry 4fa2cbb7-6c1e-4a3e-9f5d-8b7a31c90210`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(cmd, args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Output the new execution as JSON to stdout")

	return cmd
}

func init() {
	rootCmd.AddCommand(newRetryCmd())
}

func runRetry(cmd *cobra.Command, executionID string, flags retryFlags) error {
	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec, err := rt.runner.Retry(ctx, executionID)
	if err != nil {
		return fmt.Errorf("retrying execution %s: %w", executionID, err)
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
