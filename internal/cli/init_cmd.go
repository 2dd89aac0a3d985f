package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/magpieflow/magpie/internal/config"
)

// initFlags holds the flag values for the init command.
type initFlags struct {
	Name        string // --name, project name in the rendered config
	Interpreter string // --interpreter for python_script steps
	Model       string // --model, default chat model
	Force       bool   // --force, overwrite existing files
}

// newInitCmd creates "magpie init [template]". It scaffolds a magpie.toml
// plus an example workflow from an embedded template, so it is safe to run
// in a fresh directory.
func newInitCmd() *cobra.Command {
	var flags initFlags

	cmd := &cobra.Command{
		Use:   "init [template]",
		Short: "Scaffold a magpie configuration in the current directory",
		Long: `Render an embedded project template into the current directory: a
magpie.toml plus an example workflow definition. Existing files are
preserved unless --force is supplied.`,
		Example: `  # Scaffold the starter template here
  magpie init

  # Pick the interpreter and model up front
  magpie init --interpreter python3.12 --model gpt-4o

  # Overwrite an existing scaffold
  magpie init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.Name, "name", "n", "", "Project name (defaults to the current directory name)")
	cmd.Flags().StringVar(&flags.Interpreter, "interpreter", "python3", "Python interpreter for script steps")
	cmd.Flags().StringVar(&flags.Model, "model", "gpt-4o-mini", "Default chat model")
	cmd.Flags().BoolVar(&flags.Force, "force", false, "Overwrite existing files")

	return cmd
}

func init() {
	rootCmd.AddCommand(newInitCmd())
}

// runInit renders the chosen template into the working directory.
func runInit(cmd *cobra.Command, args []string, flags initFlags) error {
	templateName := "starter"
	if len(args) > 0 {
		templateName = args[0]
	}

	if !config.TemplateExists(templateName) {
		available, listErr := config.ListTemplates()
		if listErr != nil {
			return fmt.Errorf("listing available templates: %w", listErr)
		}
		return fmt.Errorf("template %q not found; available templates: %s",
			templateName, strings.Join(available, ", "))
	}

	destDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	projectName := flags.Name
	if projectName == "" {
		projectName = filepath.Base(destDir)
	}
	if strings.Contains(projectName, "../") || strings.Contains(projectName, `..\`) {
		return fmt.Errorf("invalid project name %q: must not contain path traversal sequences", projectName)
	}

	// Guard against clobbering an existing magpie.toml unless --force is set.
	cfgPath := filepath.Join(destDir, config.ConfigFileName)
	if _, statErr := os.Stat(cfgPath); statErr == nil && !flags.Force {
		return fmt.Errorf("%s already exists in %s; use --force to overwrite", config.ConfigFileName, destDir)
	}

	vars := config.TemplateVars{
		ProjectName: projectName,
		Interpreter: flags.Interpreter,
		Model:       flags.Model,
	}

	created, err := config.RenderTemplate(templateName, destDir, vars, flags.Force)
	if err != nil {
		return fmt.Errorf("rendering template %q: %w", templateName, err)
	}

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "Initialized project %q from template %q\n\n", projectName, templateName)

	if len(created) > 0 {
		fmt.Fprintln(out, "Created files:")
		for _, f := range created {
			rel, relErr := filepath.Rel(destDir, f)
			if relErr != nil {
				rel = f
			}
			fmt.Fprintf(out, "  %s\n", rel)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  1. Edit %s and export the API key named in llm.api_key_env\n", config.ConfigFileName)
	fmt.Fprintln(out, "  2. Run the example: magpie run workflows/daily-report.toml")
	fmt.Fprintln(out, "  3. Author your own: magpie workflows create \"<what it should do>\"")

	return nil
}
