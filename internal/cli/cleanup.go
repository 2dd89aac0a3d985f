package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cleanupFlags holds the flag values for the cleanup command.
type cleanupFlags struct {
	Days       int  // --days, age threshold
	KeepFailed bool // --keep-failed, spare failed executions
}

// newCleanupCmd creates the "magpie cleanup" command.
func newCleanupCmd() *cobra.Command {
	var flags cleanupFlags

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old execution records",
		Long: `Delete terminal executions older than the --days threshold, including their
step rows. Running and waiting executions are never touched.`,
		Example: `  # Drop terminal executions older than 30 days
  magpie cleanup

  # Keep failed executions around for debugging
  magpie cleanup --days 7 --keep-failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd, flags)
		},
	}

	cmd.Flags().IntVar(&flags.Days, "days", 30, "Delete executions older than this many days")
	cmd.Flags().BoolVar(&flags.KeepFailed, "keep-failed", false, "Do not delete failed executions")

	return cmd
}

func init() {
	rootCmd.AddCommand(newCleanupCmd())
}

func runCleanup(cmd *cobra.Command, flags cleanupFlags) error {
	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.runner.Cleanup(flags.Days, flags.KeepFailed)
	if err != nil {
		return fmt.Errorf("cleaning up executions: %w", err)
	}

	if n == 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "No executions older than %d days\n", flags.Days)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Deleted %d executions older than %d days\n", n, flags.Days)
	return nil
}
