package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/magpieflow/magpie/internal/runner"
	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/trigger"
)

// newTriggerCmd creates the "magpie trigger" command group.
func newTriggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manage workflow triggers",
		Long: `Create and maintain firing rules bound to workflows: cron schedules,
event matchers, webhook registrations, and manual triggers. Scheduled
triggers fire from "magpie scheduler".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newTriggerCreateCmd())
	cmd.AddCommand(newTriggerListCmd())
	cmd.AddCommand(newTriggerEnableCmd(true))
	cmd.AddCommand(newTriggerEnableCmd(false))
	cmd.AddCommand(newTriggerDeleteCmd())
	cmd.AddCommand(newTriggerFireCmd())
	cmd.AddCommand(newTriggerEventCmd())
	return cmd
}

func init() {
	rootCmd.AddCommand(newTriggerCmd())
}

// triggerCreateFlags holds the flag values for "trigger create".
type triggerCreateFlags struct {
	Name      string // --name
	Type      string // --type
	Cron      string // --cron for scheduled triggers
	Timezone  string // --timezone, IANA name
	EventType string // --event for event triggers
	Condition string // --condition, expression over the event payload
	Endpoint  string // --endpoint for webhook triggers
	Disabled  bool   // --disabled, create without enabling
}

func newTriggerCreateCmd() *cobra.Command {
	var flags triggerCreateFlags

	cmd := &cobra.Command{
		Use:   "create <workflow>",
		Short: "Create a trigger for a workflow",
		Long: `Bind a firing rule to a workflow. The config schema depends on --type:
scheduled triggers need --cron (standard 5-field), event triggers need
--event and accept an optional --condition over the payload, webhook
triggers need --endpoint. Invalid cron expressions are rejected here,
not at fire time.`,
		Example: `  # Every weekday at 08:30, Seoul time
  magpie trigger create daily-report --type scheduled --cron "30 8 * * 1-5" --timezone Asia/Seoul

  # When an order-created event with a large amount arrives
  magpie trigger create big-order-alert --type event --event order.created --condition "amount > 1000"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTriggerCreate(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "Trigger name (defaults to the workflow name)")
	cmd.Flags().StringVar(&flags.Type, "type", "scheduled", "Trigger type: scheduled, event, webhook, or manual")
	cmd.Flags().StringVar(&flags.Cron, "cron", "", "Cron schedule (scheduled triggers)")
	cmd.Flags().StringVar(&flags.Timezone, "timezone", "", "IANA timezone for the schedule")
	cmd.Flags().StringVar(&flags.EventType, "event", "", "Event type to match (event triggers)")
	cmd.Flags().StringVar(&flags.Condition, "condition", "", "Expression over the event payload (event triggers)")
	cmd.Flags().StringVar(&flags.Endpoint, "endpoint", "", "Webhook endpoint path (webhook triggers)")
	cmd.Flags().BoolVar(&flags.Disabled, "disabled", false, "Create the trigger disabled")

	return cmd
}

func runTriggerCreate(cmd *cobra.Command, workflowRef string, flags triggerCreateFlags) error {
	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	wf, err := resolveWorkflow(rt, workflowRef)
	if err != nil {
		return err
	}

	name := flags.Name
	if name == "" {
		name = wf.Name
	}

	cfg := map[string]any{}
	switch store.TriggerType(flags.Type) {
	case store.TriggerScheduled:
		cfg["cron"] = flags.Cron
		if flags.Timezone != "" {
			cfg["timezone"] = flags.Timezone
		}
	case store.TriggerEvent:
		cfg["event_type"] = flags.EventType
		if flags.Condition != "" {
			cfg["condition"] = flags.Condition
		}
	case store.TriggerWebhook:
		cfg["endpoint"] = flags.Endpoint
	}

	t, err := rt.triggers.Create(trigger.CreateRequest{
		WorkflowID: wf.ID,
		Name:       name,
		Type:       store.TriggerType(flags.Type),
		Config:     cfg,
		Enabled:    !flags.Disabled,
	})
	if err != nil {
		return fmt.Errorf("creating trigger: %w", err)
	}

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "Trigger %q created as %s (%s, workflow %q)\n", t.Name, shortID(t.ID), t.Type, wf.Name)
	if t.NextTriggerAt != nil {
		fmt.Fprintf(out, "  Next firing: %s\n", t.NextTriggerAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func newTriggerListCmd() *cobra.Command {
	var workflowRef string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			opts := trigger.ListOptions{}
			if workflowRef != "" {
				wf, err := resolveWorkflow(rt, workflowRef)
				if err != nil {
					return err
				}
				opts.WorkflowID = wf.ID
			}

			triggers, err := rt.triggers.List(opts)
			if err != nil {
				return fmt.Errorf("listing triggers: %w", err)
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(triggers)
			}

			out := cmd.ErrOrStderr()
			if len(triggers) == 0 {
				fmt.Fprintln(out, "No triggers defined.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tENABLED\tFIRED\tNEXT")
			for _, t := range triggers {
				next := "-"
				if t.NextTriggerAt != nil {
					next = t.NextTriggerAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%d\t%s\n",
					shortID(t.ID), t.Name, t.Type, t.Enabled, t.TriggerCount, next)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&workflowRef, "workflow", "", "Filter to one workflow (ID or name)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output triggers as JSON to stdout")
	return cmd
}

// newTriggerEnableCmd builds the enable or disable subcommand; the two share
// their body apart from the flag value.
func newTriggerEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <trigger-id>", "Enable a trigger"
	if !enable {
		use, short = "disable <trigger-id>", "Disable a trigger without deleting it"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			t, err := rt.triggers.Update(args[0], trigger.UpdateRequest{Enabled: &enable})
			if err != nil {
				return fmt.Errorf("updating trigger %s: %w", args[0], err)
			}

			state := "disabled"
			if t.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Trigger %q %s\n", t.Name, state)
			return nil
		},
	}
}

func newTriggerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <trigger-id>",
		Short: "Delete a trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.triggers.Delete(args[0]); err != nil {
				return fmt.Errorf("deleting trigger %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Trigger %s deleted\n", shortID(args[0]))
			return nil
		},
	}
}

func newTriggerFireCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "fire <trigger-id>",
		Short: "Fire one trigger immediately",
		Long: `Execute an enabled trigger's workflow now, bypassing its schedule, and
advance the schedule as if it had fired normally.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(runtimeOpts{})
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			exec, err := rt.scheduler.ExecuteOnce(ctx, args[0])
			if err != nil {
				return fmt.Errorf("firing trigger %s: %w", args[0], err)
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(exec)
			}
			printRunOutcome(cmd, exec)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the execution as JSON to stdout")
	return cmd
}

// newTriggerEventCmd fires an application event and runs the matching
// event triggers.
func newTriggerEventCmd() *cobra.Command {
	var payloadJSON string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "event <event-type>",
		Short: "Fire an event and run the triggers it matches",
		Long: `Match an event against every enabled event trigger. Conditions are
evaluated against the --payload object; matched triggers run their
workflows with the payload as input. With --dry-run the matches are
reported but nothing executes.`,
		Example: `  magpie trigger event order.created --payload '{"amount": 2500}'
  magpie trigger event deploy.finished --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTriggerEvent(cmd, args[0], payloadJSON, dryRun)
		},
	}

	cmd.Flags().StringVar(&payloadJSON, "payload", "", "JSON object passed to conditions and workflow input")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report matches without executing")
	return cmd
}

func runTriggerEvent(cmd *cobra.Command, eventType, payloadJSON string, dryRun bool) error {
	payload := map[string]any{}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing --payload: %w", err)
		}
	}

	rt, err := openRuntime(runtimeOpts{})
	if err != nil {
		return err
	}
	defer rt.Close()

	matches, err := rt.triggers.FireEvent(eventType, payload)
	if err != nil {
		return fmt.Errorf("matching event: %w", err)
	}

	out := cmd.ErrOrStderr()
	if len(matches) == 0 {
		fmt.Fprintf(out, "No triggers matched event %q\n", eventType)
		return nil
	}

	names := make([]string, len(matches))
	for i, t := range matches {
		names[i] = t.Name
	}
	fmt.Fprintf(out, "Event %q matched %d trigger(s): %s\n", eventType, len(matches), strings.Join(names, ", "))
	if dryRun {
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var failed int
	for _, t := range matches {
		exec, err := rt.runner.Execute(ctx, runner.RunRequest{
			WorkflowID: t.WorkflowID,
			InputData:  payload,
			TriggerID:  t.ID,
		})
		if err != nil {
			failed++
			fmt.Fprintf(out, "  %s: %v\n", t.Name, err)
			continue
		}
		if markErr := rt.triggers.MarkExecuted(t.ID, time.Now().UTC()); markErr != nil {
			rt.logger.Warn("recording trigger firing", "trigger", t.ID, "error", markErr)
		}
		fmt.Fprintf(out, "  %s: execution %s finished %s\n", t.Name, shortID(exec.ID), renderExecStatus(exec.Status))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d matched triggers failed to start", failed, len(matches))
	}
	return nil
}
