package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/magpieflow/magpie/internal/pycheck"
	"github.com/magpieflow/magpie/internal/workflow"
)

// validateFlags holds the flag values for the validate command.
type validateFlags struct {
	JSON bool // --json for structured output
}

// scriptValidation pairs a pycheck result with the step it came from. Step
// is empty when the input was a bare script.
type scriptValidation struct {
	Step   string         `json:"step,omitempty"`
	Result pycheck.Result `json:"result"`
}

// validateOutput is the JSON output type for the validate command.
type validateOutput struct {
	File             string             `json:"file"`
	OK               bool               `json:"ok"`
	DefinitionErrors []string           `json:"definition_errors,omitempty"`
	Scripts          []scriptValidation `json:"scripts,omitempty"`
}

// newValidateCmd creates the "magpie validate" command.
func newValidateCmd() *cobra.Command {
	var flags validateFlags

	cmd := &cobra.Command{
		Use:   "validate <file|->",
		Short: "Check a script or workflow definition without running it",
		Long: `Validate input before it reaches an execution. A .json or .toml file is
checked as a workflow definition: structural rules first, then the body of
every python_script step. Any other file, or "-" for stdin, is checked as
a bare script body.

Script checks parse the code and enforce the step contract: variables
arrive via --variables-file, the result leaves as one JSON document on
stdout, logs go to stderr. Warnings do not fail validation; errors do.`,
		Example: `  # A workflow definition
  magpie validate workflows/daily-report.toml

  # A script body from a file or stdin
  magpie validate transform.py
  cat transform.py | magpie validate -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Output structured JSON to stdout")

	return cmd
}

func init() {
	rootCmd.AddCommand(newValidateCmd())
}

// runValidate validates one input and reports findings. The command exits
// nonzero when any error-severity issue or definition error is present.
func runValidate(cmd *cobra.Command, path string, flags validateFlags) error {
	out, err := validateInput(cmd.Context(), path)
	if err != nil {
		return err
	}

	if flags.JSON {
		if err := encodeJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	} else {
		renderValidation(cmd.ErrOrStderr(), out)
	}

	if !out.OK {
		return fmt.Errorf("validation failed for %s", out.File)
	}
	return nil
}

// validateInput routes by extension: definitions get the structural pass
// plus per-step script checks, everything else is a bare script body.
func validateInput(ctx context.Context, path string) (*validateOutput, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".toml":
		return validateDefinitionFile(ctx, path)
	default:
		return validateScriptFile(ctx, path)
	}
}

func validateScriptFile(ctx context.Context, path string) (*validateOutput, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		path = "stdin"
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading script: %w", err)
		}
	}

	res := pycheck.Validate(ctx, string(data))
	return &validateOutput{
		File:    path,
		OK:      res.OK,
		Scripts: []scriptValidation{{Result: res}},
	}, nil
}

func validateDefinitionFile(ctx context.Context, path string) (*validateOutput, error) {
	wf, err := loadDefinitionFile(path)
	if err != nil {
		return nil, err
	}

	out := &validateOutput{File: path, OK: true}
	for _, verr := range workflow.ValidateDefinition(wf) {
		out.DefinitionErrors = append(out.DefinitionErrors, verr.Error())
		out.OK = false
	}

	for _, s := range wf.Steps {
		if s.Type != workflow.StepPythonScript {
			continue
		}
		res := pycheck.Validate(ctx, s.Code)
		out.Scripts = append(out.Scripts, scriptValidation{Step: s.Name, Result: res})
		if !res.OK {
			out.OK = false
		}
	}
	return out, nil
}

// renderValidation writes the human-readable findings.
func renderValidation(w io.Writer, out *validateOutput) {
	if len(out.DefinitionErrors) > 0 {
		fmt.Fprintln(w, styleHeader.Render("Definition"))
		for _, msg := range out.DefinitionErrors {
			fmt.Fprintf(w, "  %s %s\n", styleBad.Render("error"), msg)
		}
	}

	for _, sv := range out.Scripts {
		if sv.Step != "" {
			fmt.Fprintln(w, styleHeader.Render(fmt.Sprintf("Step %q", sv.Step)))
		}
		if len(sv.Result.Issues) == 0 {
			fmt.Fprintf(w, "  %s\n", styleOK.Render("clean"))
			continue
		}
		for _, iss := range sv.Result.Issues {
			tag := styleWarn.Render("warning")
			if iss.Severity == pycheck.SeverityError {
				tag = styleBad.Render("error")
			}
			if iss.Line > 0 {
				fmt.Fprintf(w, "  %s line %d: %s\n", tag, iss.Line, iss.Message)
			} else {
				fmt.Fprintf(w, "  %s %s\n", tag, iss.Message)
			}
		}
	}

	if out.OK {
		fmt.Fprintf(w, "\n%s %s is valid\n", styleOK.Render("OK"), out.File)
	}
}
