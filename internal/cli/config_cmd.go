package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/magpieflow/magpie/internal/config"
)

// configCmd is the parent "config" namespace command. It has no action of its
// own -- it groups init, debug, and validate subcommands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Inspect, validate, and debug magpie configuration.",
	// RunE shows help when invoked with no subcommand.
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// configDebugCmd implements "magpie config debug".
// It prints the fully-resolved configuration with source annotations.
var configDebugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Show resolved configuration with source annotations",
	Long: `Display the fully-resolved configuration showing each value and
the source where it came from (cli flag, environment variable, config file, or default).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, _, err := loadAndResolveConfig()
		if err != nil {
			return err
		}
		printResolvedConfig(cmd, resolved)
		return nil
	},
}

// configValidateCmd implements "magpie config validate".
// It validates the resolved configuration and reports all errors and warnings.
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and report issues",
	Long:  "Check the configuration for errors and warnings.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolved, meta, err := loadAndResolveConfig()
		if err != nil {
			return err
		}
		result := config.Validate(resolved.Config, meta)
		printValidationResult(cmd, result)
		if result.HasErrors() {
			return fmt.Errorf("configuration has %d error(s)", len(result.Errors()))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configDebugCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// sourceStyle returns a lipgloss style for a given ConfigSource. When
// --no-color is active, lipgloss automatically strips ANSI because the root
// PersistentPreRunE sets the color profile to Ascii.
func sourceStyle(src config.ConfigSource) lipgloss.Style {
	switch src {
	case config.SourceFile:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // bright blue
	case config.SourceEnv:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // bright yellow
	case config.SourceCLI:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("9")) // bright red
	default: // SourceDefault
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10")) // bright green
	}
}

const fieldWidth = 24 // column width for field names

// printResolvedConfig writes the formatted resolved configuration to cmd's
// output writer (stdout by default).
func printResolvedConfig(cmd *cobra.Command, rc *config.ResolvedConfig) {
	out := cmd.OutOrStdout()
	c := rc.Config

	title := "Configuration Debug"
	fmt.Fprintln(out, styleHeader.Render(title))
	fmt.Fprintln(out, strings.Repeat("=", len(title)))
	fmt.Fprintln(out)

	if rc.Path != "" {
		fmt.Fprintf(out, "Config file: %s\n", rc.Path)
	} else {
		fmt.Fprintln(out, "Config file: none found")
	}
	fmt.Fprintln(out)

	printSection(out, "store")
	printField(out, rc, "store.path", c.Store.Path)
	printField(out, rc, "store.vector_path", c.Store.VectorPath)

	printSection(out, "scripts")
	printField(out, rc, "scripts.interpreter", c.Scripts.Interpreter)
	printField(out, rc, "scripts.timeout_seconds", c.Scripts.TimeoutSeconds)
	printField(out, rc, "scripts.work_dir", c.Scripts.WorkDir)

	printSection(out, "http")
	printField(out, rc, "http.timeout_seconds", c.HTTP.TimeoutSeconds)
	printField(out, rc, "http.max_retries", c.HTTP.MaxRetries)
	printField(out, rc, "http.cache_ttl_seconds", c.HTTP.CacheTTLSeconds)

	printSection(out, "llm")
	printField(out, rc, "llm.provider", c.LLM.Provider)
	printField(out, rc, "llm.model", c.LLM.Model)
	printField(out, rc, "llm.base_url", c.LLM.BaseURL)
	printField(out, rc, "llm.api_key_env", c.LLM.APIKeyEnv)
	printField(out, rc, "llm.embed_model", c.LLM.EmbedModel)
	printField(out, rc, "llm.embed_dims", c.LLM.EmbedDims)

	printSection(out, "knowledge")
	printField(out, rc, "knowledge.semantic_weight", c.Knowledge.SemanticWeight)
	printField(out, rc, "knowledge.summary_max_tokens", c.Knowledge.SummaryMaxTokens)
	printField(out, rc, "knowledge.context_max_tokens", c.Knowledge.ContextMaxTokens)

	printSection(out, "notify")
	printField(out, rc, "notify.smtp_host", c.Notify.SMTPHost)
	printField(out, rc, "notify.smtp_port", c.Notify.SMTPPort)
	printField(out, rc, "notify.smtp_user_env", c.Notify.SMTPUserEnv)
	printField(out, rc, "notify.smtp_password_env", c.Notify.SMTPPasswordEnv)
	printField(out, rc, "notify.from_address", c.Notify.FromAddress)

	printSection(out, "scheduler")
	printField(out, rc, "scheduler.check_interval_seconds", c.Scheduler.CheckIntervalSeconds)

	printSection(out, "workflows")
	printField(out, rc, "workflows.dir", c.Workflows.Dir)

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Sources: %s %s %s %s\n",
		sourceStyle(config.SourceDefault).Render("default"),
		sourceStyle(config.SourceFile).Render("file"),
		sourceStyle(config.SourceEnv).Render("env"),
		sourceStyle(config.SourceCLI).Render("cli"),
	)
}

// printSection writes a bold section header ("[store]").
func printSection(out io.Writer, name string) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, styleHeader.Render("["+name+"]"))
}

// printField writes one key/value line annotated with the value's source.
// Empty strings render as <unset> so they are visible in the dump.
func printField(out io.Writer, rc *config.ResolvedConfig, path string, value any) {
	src, ok := rc.Sources[path]
	if !ok {
		src = config.SourceDefault
	}

	rendered := fmt.Sprintf("%v", value)
	if s, isStr := value.(string); isStr && s == "" {
		rendered = styleDim.Render("<unset>")
	}

	// Field name without the section prefix; the section header carries it.
	name := path
	if i := strings.Index(path, "."); i >= 0 {
		name = path[i+1:]
	}
	fmt.Fprintf(out, "  %-*s %s  %s\n",
		fieldWidth, name, rendered, sourceStyle(src).Render("("+string(src)+")"))
}

// printValidationResult writes the formatted validation report to cmd's
// output writer.
func printValidationResult(cmd *cobra.Command, result *config.ValidationResult) {
	out := cmd.OutOrStdout()

	title := "Configuration Validation"
	fmt.Fprintln(out, styleHeader.Render(title))
	fmt.Fprintln(out, strings.Repeat("=", len(title)))
	fmt.Fprintln(out)

	errs := result.Errors()
	warns := result.Warnings()

	if len(errs) == 0 && len(warns) == 0 {
		fmt.Fprintln(out, styleOK.Render("No issues found."))
		return
	}

	if len(errs) > 0 {
		fmt.Fprintln(out, styleBad.Render("Errors:"))
		for _, issue := range errs {
			fmt.Fprintf(out, "  [%s] %s\n", issue.Field, issue.Message)
		}
		fmt.Fprintln(out)
	}

	if len(warns) > 0 {
		fmt.Fprintln(out, styleWarn.Render("Warnings:"))
		for _, issue := range warns {
			fmt.Fprintf(out, "  [%s] %s\n", issue.Field, issue.Message)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "%d error(s), %d warning(s)\n", len(errs), len(warns))
}
