package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/magpieflow/magpie/internal/assist"
)

// authorFlags holds the flag values shared by create and revise.
type authorFlags struct {
	Draft bool // --draft, print the definition instead of saving it
	JSON  bool // --json, emit the definition as JSON instead of TOML
}

func newWorkflowsCreateCmd() *cobra.Command {
	var flags authorFlags

	cmd := &cobra.Command{
		Use:   "create <description...>",
		Short: "Author a workflow from a plain-language description",
		Long: `Describe what the workflow should do and the model drafts the definition,
backed by the knowledge base. The draft is validated (structure and script
bodies) and saved as a new workflow. When the description is too vague the
model asks clarifying questions instead.

Requires an LLM provider in the configuration.`,
		Example: `  # Author and save
  magpie workflows create fetch the weather for Berlin every morning and email me a summary

  # Print the draft as TOML without saving
  magpie workflows create --draft summarize new support tickets > draft.toml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsCreate(cmd, strings.Join(args, " "), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.Draft, "draft", false, "Print the definition to stdout instead of saving")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Emit the definition as JSON instead of TOML")

	return cmd
}

func newWorkflowsReviseCmd() *cobra.Command {
	var (
		flags       authorFlags
		executionID string
	)

	cmd := &cobra.Command{
		Use:   "revise <workflow> [request...]",
		Short: "Revise a stored workflow with a plain-language request",
		Long: `Ask the model for a revised definition of a stored workflow. With
--execution the request is seeded from a failed run's error and logs, so
"revise --execution <id>" alone means "fix what broke". The revision is
validated and saved as a new version of the same workflow.

Requires an LLM provider in the configuration.`,
		Example: `  # Change behavior
  magpie workflows revise daily-report send the summary to the whole team

  # Fix a failed run
  magpie workflows revise daily-report --execution 4fa2cbb7`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsRevise(cmd, args[0], strings.Join(args[1:], " "), executionID, flags)
		},
	}

	cmd.Flags().StringVar(&executionID, "execution", "", "Seed the request from this failed execution")
	cmd.Flags().BoolVar(&flags.Draft, "draft", false, "Print the definition to stdout instead of saving")
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "Emit the definition as JSON instead of TOML")

	return cmd
}

func runWorkflowsCreate(cmd *cobra.Command, description string, flags authorFlags) error {
	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := rt.requireAssist()
	if err != nil {
		return err
	}
	chat, err := rt.requireLLM()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	draft, err := assist.NewBuilder(svc, chat).Build(ctx, description)
	if err != nil {
		return authoringError(cmd, err)
	}

	return finishDraft(cmd, rt, draft, "Created from description", flags)
}

func runWorkflowsRevise(cmd *cobra.Command, ref, request, executionID string, flags authorFlags) error {
	if request == "" && executionID == "" {
		return errors.New("say what to change, or pass --execution to fix a failed run")
	}

	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := rt.requireAssist()
	if err != nil {
		return err
	}
	chat, err := rt.requireLLM()
	if err != nil {
		return err
	}

	wf, err := resolveWorkflow(rt, ref)
	if err != nil {
		return err
	}

	req := assist.ModifyRequest{Workflow: wf, Request: request}
	if executionID != "" {
		exec, err := rt.store.GetExecution(executionID)
		if err != nil {
			return fmt.Errorf("loading execution %s: %w", executionID, err)
		}
		req = assist.FixRequest(wf, exec)
		if request != "" {
			req.Request = request
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	draft, err := assist.NewModifier(svc, chat).Modify(ctx, req)
	if err != nil {
		return authoringError(cmd, err)
	}

	// The revision replaces the stored definition, so it must keep its ID.
	draft.Workflow.ID = wf.ID

	summary := "Revised from request"
	if executionID != "" {
		summary = fmt.Sprintf("Revised to fix execution %s", shortID(executionID))
	}
	return finishDraft(cmd, rt, draft, summary, flags)
}

// authoringError renders clarifying questions when the model asked for more
// information; other errors pass through.
func authoringError(cmd *cobra.Command, err error) error {
	var need *assist.NeedMoreInfoError
	if !errors.As(err, &need) {
		return err
	}

	out := cmd.ErrOrStderr()
	fmt.Fprintln(out, styleHeader.Render("The model needs more information:"))
	for _, q := range need.Questions {
		fmt.Fprintf(out, "  - %s\n", q)
	}
	return errors.New("description needs more detail; answer the questions and re-run")
}

// finishDraft reports the draft and either persists it or prints it.
func finishDraft(cmd *cobra.Command, rt *runtime, draft *assist.Draft, changeSummary string, flags authorFlags) error {
	out := cmd.ErrOrStderr()

	if len(draft.Changes) > 0 {
		fmt.Fprintln(out, styleHeader.Render("Changes"))
		for _, c := range draft.Changes {
			fmt.Fprintf(out, "  - %s\n", c)
		}
	}
	for _, iss := range draft.Issues {
		fmt.Fprintf(out, "%s %s\n", styleWarn.Render("unresolved"), iss)
	}

	if flags.Draft {
		if flags.JSON {
			return encodeJSON(cmd.OutOrStdout(), draft.Workflow)
		}
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(draft.Workflow)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := rt.assist.PersistWorkflow(ctx, draft.Workflow, changeSummary)
	if err != nil {
		var verr *assist.ValidationError
		if errors.As(err, &verr) {
			for _, f := range verr.Findings {
				fmt.Fprintf(out, "%s %s\n", styleBad.Render("error"), f)
			}
			return errors.New("draft failed validation; inspect it with --draft")
		}
		return fmt.Errorf("saving workflow: %w", err)
	}

	wf, err := rt.store.GetWorkflow(id)
	if err != nil {
		return fmt.Errorf("reloading workflow %s: %w", id, err)
	}
	fmt.Fprintf(out, "%s %q as %s (version %d)\n", styleOK.Render("saved"), wf.Name, shortID(wf.ID), wf.Version)
	fmt.Fprintf(out, "  Run it with: magpie run %q\n", wf.Name)

	if flags.JSON {
		return encodeJSON(cmd.OutOrStdout(), wf)
	}
	return nil
}
