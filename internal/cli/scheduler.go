package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// newSchedulerCmd creates the "magpie scheduler" command: the foreground
// poll loop that fires due scheduled triggers.
func newSchedulerCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run the trigger scheduler",
		Long: `Poll for due scheduled triggers and start their workflow executions.
Runs in the foreground until interrupted; the poll interval comes from
scheduler.check_interval_seconds.

With --once, perform a single poll pass and exit.`,
		Example: `  # Run in the foreground (e.g. under systemd)
  magpie scheduler

  # One pass, for cron-driven hosts
  magpie scheduler --once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduler(cmd, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Poll once and exit")
	return cmd
}

func init() {
	rootCmd.AddCommand(newSchedulerCmd())
}

func runScheduler(cmd *cobra.Command, once bool) error {
	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if once {
		if err := rt.scheduler.Tick(ctx, time.Now().UTC()); err != nil {
			return fmt.Errorf("scheduler pass: %w", err)
		}
		return nil
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Scheduler running (interval %ds); Ctrl-C to stop\n",
		rt.cfg.Scheduler.CheckIntervalSeconds)

	if err := rt.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scheduler: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Scheduler stopped")
	return nil
}
