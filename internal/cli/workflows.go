package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/magpieflow/magpie/internal/pycheck"
	"github.com/magpieflow/magpie/internal/workflow"
)

// newWorkflowsCmd groups the definition management subcommands.
func newWorkflowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"wf"},
		Short:   "Manage stored workflow definitions",
		Long: `List, inspect, import, and delete the workflow definitions in the store.
Every modification allocates a new version; older versions stay retrievable
and restorable.`,
	}

	cmd.AddCommand(
		newWorkflowsListCmd(),
		newWorkflowsShowCmd(),
		newWorkflowsImportCmd(),
		newWorkflowsDeleteCmd(),
		newWorkflowsVersionsCmd(),
		newWorkflowsRestoreCmd(),
		newWorkflowsCreateCmd(),
		newWorkflowsReviseCmd(),
	)

	return cmd
}

func init() {
	rootCmd.AddCommand(newWorkflowsCmd())
}

func newWorkflowsListCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			wfs, err := rt.store.ListWorkflows()
			if err != nil {
				return fmt.Errorf("listing workflows: %w", err)
			}
			sort.Slice(wfs, func(i, j int) bool { return wfs[i].Name < wfs[j].Name })

			if jsonOut {
				return encodeJSON(cmd.OutOrStdout(), wfs)
			}

			out := cmd.ErrOrStderr()
			if len(wfs) == 0 {
				fmt.Fprintln(out, `No workflows stored. Author one with "magpie workflows create" or load files with "magpie workflows import".`)
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tVER\tSTATUS\tSTEPS\tUPDATED")
			fmt.Fprintln(tw, "--\t----\t---\t------\t-----\t-------")
			for _, wf := range wfs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%s\n",
					shortID(wf.ID),
					wf.Name,
					wf.Version,
					wf.Status,
					len(wf.Steps),
					wf.UpdatedAt.Local().Format("2006-01-02 15:04"),
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON to stdout")

	return cmd
}

func newWorkflowsShowCmd() *cobra.Command {
	var (
		jsonOut bool
		tomlOut bool
	)

	cmd := &cobra.Command{
		Use:   "show <workflow>",
		Short: "Show one workflow definition",
		Long: `Show a stored workflow by ID or name. --json and --toml write the complete
definition to stdout in a form "magpie workflows import" accepts back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOut && tomlOut {
				return errors.New("--json and --toml are mutually exclusive")
			}

			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			wf, err := resolveWorkflow(rt, args[0])
			if err != nil {
				return err
			}

			switch {
			case jsonOut:
				return encodeJSON(cmd.OutOrStdout(), wf)
			case tomlOut:
				return toml.NewEncoder(cmd.OutOrStdout()).Encode(wf)
			default:
				renderWorkflow(cmd.ErrOrStderr(), wf)
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the definition as JSON to stdout")
	cmd.Flags().BoolVar(&tomlOut, "toml", false, "Output the definition as TOML to stdout")

	return cmd
}

func newWorkflowsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file|dir>",
		Short: "Load workflow definitions from JSON or TOML files",
		Long: `Import definition files into the store. A directory is searched recursively
for .json and .toml files. Each definition is validated first, structure and
script bodies both; files that fail are reported and skipped.

A definition that carries the ID of a stored workflow updates it and
allocates a new version. Definitions without an ID are created fresh.`,
		Example: `  # One file
  magpie workflows import workflows/daily-report.toml

  # Everything under a directory
  magpie workflows import workflows/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsImport(cmd, args[0])
		},
	}
	return cmd
}

func runWorkflowsImport(cmd *cobra.Command, path string) error {
	paths, err := discoverDefinitions(path)
	if err != nil {
		return err
	}

	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.ErrOrStderr()
	failed := 0
	for _, p := range paths {
		if err := importDefinition(cmd, rt, p); err != nil {
			failed++
			fmt.Fprintf(out, "%s %s: %v\n", styleBad.Render("skipped"), p, err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d definitions failed to import", failed, len(paths))
	}
	return nil
}

// importDefinition validates and saves one definition file.
func importDefinition(cmd *cobra.Command, rt *runtime, path string) error {
	wf, err := loadDefinitionFile(path)
	if err != nil {
		return err
	}

	if errs := workflow.ValidateDefinition(wf); len(errs) > 0 {
		return errs[0]
	}
	for _, s := range wf.Steps {
		if s.Type != workflow.StepPythonScript {
			continue
		}
		if res := pycheck.Validate(cmd.Context(), s.Code); !res.OK {
			return fmt.Errorf("step %q: %s", s.Name, firstFatal(res))
		}
	}

	if err := rt.store.SaveWorkflow(wf, fmt.Sprintf("Imported from %s", path)); err != nil {
		return fmt.Errorf("saving: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %q as %s (version %d)\n",
		styleOK.Render("imported"), wf.Name, shortID(wf.ID), wf.Version)
	return nil
}

// firstFatal returns the first error-severity message from a script check.
func firstFatal(res pycheck.Result) string {
	for _, iss := range res.Issues {
		if iss.Severity == pycheck.SeverityError {
			return iss.Message
		}
	}
	return "script validation failed"
}

func newWorkflowsDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <workflow>",
		Short: "Delete a workflow and its history",
		Long: `Delete a stored workflow along with its versions, executions, and triggers.
This cannot be undone. Without --yes the command asks for confirmation,
which requires a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			wf, err := resolveWorkflow(rt, args[0])
			if err != nil {
				return err
			}

			if !yes {
				if !isTerminal(os.Stdin) {
					return errors.New("stdin is not a terminal; pass --yes to delete")
				}
				confirmed, err := confirmDelete(wf)
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(cmd.ErrOrStderr(), "Delete cancelled")
					return nil
				}
			}

			if err := rt.store.DeleteWorkflow(wf.ID); err != nil {
				return fmt.Errorf("deleting workflow %s: %w", wf.ID, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Deleted workflow %q (%s)\n", wf.Name, shortID(wf.ID))
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Delete without confirmation")

	return cmd
}

// confirmDelete prompts before a destructive delete. Returns true to delete.
func confirmDelete(wf *workflow.Workflow) (bool, error) {
	confirmed := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Delete workflow %q?", wf.Name)).
				Description(fmt.Sprintf("Removes %d steps, all versions, executions, and triggers.", len(wf.Steps))).
				Affirmative("Delete").
				Negative("Keep").
				Value(&confirmed),
		),
	).
		WithTheme(huh.ThemeCharm()).
		WithWidth(80)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("reading decision: %w", err)
	}
	return confirmed, nil
}

func newWorkflowsVersionsCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "versions <workflow>",
		Short: "List the stored versions of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			wf, err := resolveWorkflow(rt, args[0])
			if err != nil {
				return err
			}
			versions, err := rt.store.ListVersions(wf.ID)
			if err != nil {
				return fmt.Errorf("listing versions of %s: %w", wf.ID, err)
			}

			if jsonOut {
				return encodeJSON(cmd.OutOrStdout(), versions)
			}

			out := cmd.ErrOrStderr()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tCREATED\tSUMMARY")
			fmt.Fprintln(tw, "-------\t-------\t-------")
			for _, v := range versions {
				marker := ""
				if v.Version == wf.Version {
					marker = " (current)"
				}
				fmt.Fprintf(tw, "%d%s\t%s\t%s\n",
					v.Version,
					marker,
					v.CreatedAt.Local().Format("2006-01-02 15:04"),
					v.ChangeSummary,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON to stdout")

	return cmd
}

func newWorkflowsRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <workflow> <version>",
		Short: "Restore a workflow to an earlier version",
		Long: `Copy an earlier version's definition forward as a new version. History is
preserved; nothing is rewound.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid version %q: want a number", args[1])
			}

			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			wf, err := resolveWorkflow(rt, args[0])
			if err != nil {
				return err
			}
			restored, err := rt.store.RestoreVersion(wf.ID, version)
			if err != nil {
				return fmt.Errorf("restoring version %d: %w", version, err)
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Restored workflow %q to version %d content (now version %d)\n",
				restored.Name, version, restored.Version)
			return nil
		},
	}
	return cmd
}

// renderWorkflow writes the human-readable view of one definition.
func renderWorkflow(w io.Writer, wf *workflow.Workflow) {
	title := fmt.Sprintf("Workflow %q (%s)", wf.Name, shortID(wf.ID))
	fmt.Fprintln(w, styleHeader.Render(title))
	fmt.Fprintln(w, strings.Repeat("=", len(title)))
	fmt.Fprintf(w, "Version:     %d (%s)\n", wf.Version, wf.Status)
	if wf.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", wf.Description)
	}
	if len(wf.Tags) > 0 {
		fmt.Fprintf(w, "Tags:        %s\n", strings.Join(wf.Tags, ", "))
	}
	if len(wf.Variables) > 0 {
		keys := make([]string, 0, len(wf.Variables))
		for k := range wf.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "Variables:   %s\n", strings.Join(keys, ", "))
	}
	fmt.Fprintf(w, "Updated:     %s\n", wf.UpdatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintln(w)

	if len(wf.Steps) == 0 {
		fmt.Fprintln(w, "No steps.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "  #\tSTEP\tTYPE\tCONDITION")
	for i, s := range workflow.SortSteps(wf.Steps) {
		cond := s.Condition
		if cond == "" {
			cond = "-"
		}
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", i+1, s.Name, s.Type, cond)
	}
}
