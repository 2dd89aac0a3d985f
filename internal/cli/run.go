package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/magpieflow/magpie/internal/runner"
	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/tui"
	"github.com/magpieflow/magpie/internal/workflow"
)

// runFlags holds the flag values for the run command.
type runFlags struct {
	File  bool     // --file: treat the argument as a definition file or directory
	Vars  []string // --var k=v, repeatable
	Input string   // --input: JSON object merged into the input data
	Watch bool     // --watch: live step view while the workflow runs
	JSON  bool     // --json: print the finished execution to stdout
}

// newRunCmd creates the "magpie run" command.
func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run <workflow|file>",
		Short: "Execute a workflow",
		Long: `Execute a stored workflow by ID or name, or a definition file.

A definition file (--file, or an argument that names an existing path) is
imported into the store before it runs, so the execution history has a
definition version to point at. Directories are searched recursively for
.json and .toml definitions; run expects exactly one.

Input variables are seeded from the definition's variables, overlaid with
--input, then with each --var.`,
		Example: `  # Run a stored workflow by name
  magpie run "Daily Report"

  # Run a definition file with an input variable
  magpie run --file workflows/report.toml --var city=Berlin

  # Bulk input plus the live step view
  magpie run weekly-digest --input '{"recipients": ["ops@example.com"]}' --watch

  # Machine-readable result
  magpie run weekly-digest --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.File, "file", false, "Treat the argument as a definition file or directory")
	cmd.Flags().StringArrayVar(&flags.Vars, "var", nil, "Set an input variable as key=value (repeatable; values parse as JSON when possible)")
	cmd.Flags().StringVar(&flags.Input, "input", "", "JSON object merged into the input data")
	cmd.Flags().BoolVar(&flags.Watch, "watch", false, "Show the live step view while the workflow runs")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Print the finished execution as JSON to stdout")

	return cmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

// runRun resolves the workflow, builds the input data, and executes.
func runRun(cmd *cobra.Command, ref string, flags runFlags) error {
	input, err := buildInputData(flags.Input, flags.Vars)
	if err != nil {
		return err
	}

	var events chan workflow.Event
	if flags.Watch {
		events = make(chan workflow.Event, 64)
	}
	rt, err := openRuntime(runtimeOpts{Events: events})
	if err != nil {
		return err
	}
	defer rt.Close()

	wf, err := resolveRunTarget(cmd, rt, ref, flags.File)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	req := runner.RunRequest{WorkflowID: wf.ID, InputData: input}

	var exec *store.Execution
	if flags.Watch {
		exec, err = runWatched(ctx, cancel, rt, wf, req, events)
	} else {
		exec, err = rt.runner.Execute(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("running workflow %q: %w", wf.Name, err)
	}

	if flags.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(exec); err != nil {
			return err
		}
	} else {
		printRunOutcome(cmd, exec)
	}

	if exec.Status == workflow.ExecFailed {
		return fmt.Errorf("execution %s failed: %s", exec.ID, exec.ErrorMessage)
	}
	return nil
}

// resolveRunTarget turns the positional argument into a stored workflow.
// Definition files and directories are imported first. Without --file, an
// argument that names an existing path is still treated as one.
func resolveRunTarget(cmd *cobra.Command, rt *runtime, ref string, fileMode bool) (*workflow.Workflow, error) {
	if !fileMode {
		if _, err := os.Stat(ref); err != nil {
			return resolveWorkflow(rt, ref)
		}
	}

	paths, err := discoverDefinitions(ref)
	if err != nil {
		return nil, err
	}
	if len(paths) > 1 {
		return nil, fmt.Errorf(
			"found %d definitions under %s; run one file, or load them all with \"magpie workflows import\":\n  %s",
			len(paths), ref, strings.Join(paths, "\n  "))
	}

	wf, err := loadDefinitionFile(paths[0])
	if err != nil {
		return nil, err
	}
	if errs := workflow.ValidateDefinition(wf); len(errs) > 0 {
		return nil, fmt.Errorf("definition %s is invalid: %v", paths[0], errs[0])
	}
	if err := rt.store.SaveWorkflow(wf, "Imported by run"); err != nil {
		return nil, fmt.Errorf("importing definition: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Imported %q as %s (version %d)\n", wf.Name, wf.ID, wf.Version)
	return wf, nil
}

// runWatched executes the workflow behind the live step view. Quitting the
// view cancels the execution; the result is collected either way.
func runWatched(
	ctx context.Context,
	cancel context.CancelFunc,
	rt *runtime,
	wf *workflow.Workflow,
	req runner.RunRequest,
	events chan workflow.Event,
) (*store.Execution, error) {
	prog := tea.NewProgram(tui.NewWatch(wf.Name, wf.Steps, events), tea.WithOutput(os.Stderr))

	type result struct {
		exec *store.Execution
		err  error
	}
	done := make(chan result, 1)
	go func() {
		exec, err := rt.runner.Execute(ctx, req)
		done <- result{exec, err}
		prog.Send(tui.RunFinishedMsg{Execution: exec, Err: err})
	}()

	if _, err := prog.Run(); err != nil {
		return nil, fmt.Errorf("watch view: %w", err)
	}
	// The view may have been quit mid-run; stop the execution and wait for
	// the runner to hand back the row.
	cancel()
	res := <-done
	return res.exec, res.err
}

// buildInputData layers the --input object and --var pairs into one map.
// Later layers win.
func buildInputData(inputJSON string, vars []string) (map[string]any, error) {
	input := make(map[string]any)

	if inputJSON != "" {
		if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
			return nil, fmt.Errorf("parsing --input: %w", err)
		}
	}

	for _, pair := range vars {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: want key=value", pair)
		}
		input[key] = parseVarValue(raw)
	}
	return input, nil
}

// parseVarValue decodes a --var value as JSON when it parses as JSON, so
// numbers, booleans, arrays, and objects come through typed. Everything
// else stays a string.
func parseVarValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// printRunOutcome writes the human summary of a finished execution.
func printRunOutcome(cmd *cobra.Command, exec *store.Execution) {
	out := cmd.ErrOrStderr()

	switch exec.Status {
	case workflow.ExecSuccess:
		fmt.Fprintf(out, "Workflow %q completed in %.1fs\n", exec.WorkflowName, exec.DurationSeconds)
	case workflow.ExecWaitingApproval:
		fmt.Fprintf(out, "Workflow %q is waiting for approval\n", exec.WorkflowName)
		fmt.Fprintf(out, "  Approve or reject with: magpie resume %s\n", exec.ID)
	case workflow.ExecCancelled:
		fmt.Fprintf(out, "Workflow %q was cancelled\n", exec.WorkflowName)
	default:
		fmt.Fprintf(out, "Workflow %q finished with status %s\n", exec.WorkflowName, renderExecStatus(exec.Status))
	}

	if exec.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error: %s\n", exec.ErrorMessage)
	}
	if len(exec.OutputData) > 0 {
		if data, err := json.MarshalIndent(exec.OutputData, "  ", "  "); err == nil {
			fmt.Fprintf(out, "  Output: %s\n", data)
		}
	}
	fmt.Fprintf(out, "  Details: magpie status %s\n", exec.ID)
}
