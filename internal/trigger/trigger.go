// Package trigger manages firing rules bound to workflows. A Manager
// validates and maintains trigger records (cron schedules, event matchers,
// webhook registrations); a Scheduler polls for due scheduled triggers and
// starts executions through the runner.
package trigger

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/magpieflow/magpie/internal/logging"
	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/workflow"
)

// Config keys by trigger type:
//
//	scheduled: "cron" (required, standard 5-field), "timezone" (optional IANA name)
//	event:     "event_type" (required), "condition" (optional expression)
//	webhook:   "endpoint" (required)
//	manual:    none
//
// Next firing times are stored in UTC regardless of the schedule's timezone.

// Manager validates and maintains trigger records. The store enforces only
// identity fields; the per-type config schema is enforced here, so a trigger
// that reaches the scheduler always has a parseable schedule.
type Manager struct {
	store  *store.Store
	logger *log.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager over the store.
func NewManager(st *store.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  st,
		logger: logging.New("trigger"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRequest describes a new trigger.
type CreateRequest struct {
	WorkflowID string
	Name       string
	Type       store.TriggerType
	Config     map[string]any
	Enabled    bool
}

// Create validates and stores a trigger. The workflow must exist. An enabled
// scheduled trigger gets its first firing time computed immediately.
func (m *Manager) Create(req CreateRequest) (*store.Trigger, error) {
	if _, err := m.store.GetWorkflow(req.WorkflowID); err != nil {
		return nil, fmt.Errorf("loading workflow: %w", err)
	}
	if err := validateConfig(req.Type, req.Config); err != nil {
		return nil, err
	}

	t := &store.Trigger{
		WorkflowID: req.WorkflowID,
		Name:       req.Name,
		Type:       req.Type,
		Enabled:    req.Enabled,
		Config:     req.Config,
	}
	if t.Type == store.TriggerScheduled && t.Enabled {
		next, err := nextRun(t.Config, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		t.NextTriggerAt = &next
	}
	if err := m.store.CreateTrigger(t); err != nil {
		return nil, err
	}
	m.logger.Info("trigger created", "trigger", t.ID, "workflow", t.WorkflowID, "type", t.Type)
	return t, nil
}

// UpdateRequest carries partial trigger updates; nil fields stay unchanged.
type UpdateRequest struct {
	Name    *string
	Config  map[string]any
	Enabled *bool
}

// Update applies a partial update. A scheduled trigger's next firing time
// follows the change: disabling clears it, enabling or replacing the config
// recomputes it.
func (m *Manager) Update(id string, req UpdateRequest) (*store.Trigger, error) {
	t, err := m.store.GetTrigger(id)
	if err != nil {
		return nil, err
	}

	configChanged := false
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.Config != nil {
		if err := validateConfig(t.Type, req.Config); err != nil {
			return nil, err
		}
		t.Config = req.Config
		configChanged = true
	}
	enabledChanged := req.Enabled != nil
	if enabledChanged {
		t.Enabled = *req.Enabled
	}

	if t.Type == store.TriggerScheduled {
		switch {
		case !t.Enabled:
			t.NextTriggerAt = nil
		case configChanged || enabledChanged:
			next, err := nextRun(t.Config, time.Now().UTC())
			if err != nil {
				return nil, err
			}
			t.NextTriggerAt = &next
		}
	}

	if err := m.store.UpdateTrigger(t); err != nil {
		return nil, err
	}
	m.logger.Info("trigger updated", "trigger", t.ID)
	return t, nil
}

// Get returns the trigger by ID.
func (m *Manager) Get(id string) (*store.Trigger, error) {
	return m.store.GetTrigger(id)
}

// Delete removes the trigger.
func (m *Manager) Delete(id string) error {
	if err := m.store.DeleteTrigger(id); err != nil {
		return err
	}
	m.logger.Info("trigger deleted", "trigger", id)
	return nil
}

// ListOptions filters List. Zero values mean no filter.
type ListOptions struct {
	WorkflowID  string
	Type        store.TriggerType
	EnabledOnly bool
}

// List returns triggers oldest first, filtered by opts.
func (m *Manager) List(opts ListOptions) ([]*store.Trigger, error) {
	all, err := m.store.ListTriggers(opts.WorkflowID)
	if err != nil {
		return nil, err
	}
	filtered := all[:0]
	for _, t := range all {
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		if opts.EnabledOnly && !t.Enabled {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered, nil
}

// Due returns enabled scheduled triggers whose next firing time has passed.
func (m *Manager) Due(now time.Time) ([]*store.Trigger, error) {
	all, err := m.store.ListTriggers("")
	if err != nil {
		return nil, err
	}
	var due []*store.Trigger
	for _, t := range all {
		if t.Type != store.TriggerScheduled || !t.Enabled || t.NextTriggerAt == nil {
			continue
		}
		if !t.NextTriggerAt.After(now) {
			due = append(due, t)
		}
	}
	return due, nil
}

// MarkExecuted records a firing: stamps last_triggered_at, bumps the
// counter, and advances a scheduled trigger's next firing time past now.
func (m *Manager) MarkExecuted(id string, now time.Time) error {
	t, err := m.store.GetTrigger(id)
	if err != nil {
		return err
	}
	fired := now.UTC()
	t.LastTriggeredAt = &fired
	t.TriggerCount++
	if t.Type == store.TriggerScheduled && t.Enabled {
		next, err := nextRun(t.Config, fired)
		if err != nil {
			return err
		}
		t.NextTriggerAt = &next
	}
	return m.store.UpdateTrigger(t)
}

// FireEvent returns the enabled event triggers matching eventType whose
// optional condition holds against the payload. A condition that fails to
// evaluate is logged and its trigger skipped; starting executions for the
// matches is the caller's job.
func (m *Manager) FireEvent(eventType string, payload map[string]any) ([]*store.Trigger, error) {
	all, err := m.store.ListTriggers("")
	if err != nil {
		return nil, err
	}
	var matched []*store.Trigger
	for _, t := range all {
		if t.Type != store.TriggerEvent || !t.Enabled {
			continue
		}
		if configString(t.Config, "event_type") != eventType {
			continue
		}
		if cond := configString(t.Config, "condition"); cond != "" {
			ok, err := workflow.EvalCondition(cond, payload)
			if err != nil {
				m.logger.Warn("trigger condition failed to evaluate",
					"trigger", t.ID, "condition", cond, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, t)
	}
	m.logger.Info("event fired", "event", eventType, "matched", len(matched))
	return matched, nil
}

// validateConfig checks the per-type config schema.
func validateConfig(typ store.TriggerType, cfg map[string]any) error {
	switch typ {
	case store.TriggerScheduled:
		_, _, err := parseSchedule(cfg)
		return err
	case store.TriggerEvent:
		if configString(cfg, "event_type") == "" {
			return fmt.Errorf("event trigger requires an event_type in config")
		}
		if cond := configString(cfg, "condition"); cond != "" {
			if err := workflow.ParseCondition(cond); err != nil {
				return fmt.Errorf("invalid trigger condition: %w", err)
			}
		}
		return nil
	case store.TriggerWebhook:
		if configString(cfg, "endpoint") == "" {
			return fmt.Errorf("webhook trigger requires an endpoint in config")
		}
		return nil
	case store.TriggerManual:
		return nil
	default:
		return fmt.Errorf("unknown trigger type %q", typ)
	}
}

// parseSchedule parses the cron expression and timezone of a scheduled
// config. The zero timezone is UTC, not the host's local time.
func parseSchedule(cfg map[string]any) (cron.Schedule, *time.Location, error) {
	expr := configString(cfg, "cron")
	if expr == "" {
		return nil, nil, fmt.Errorf("scheduled trigger requires a cron expression in config")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	loc := time.UTC
	if tz := configString(cfg, "timezone"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	return sched, loc, nil
}

// nextRun computes the next firing time after now for a scheduled config,
// in UTC.
func nextRun(cfg map[string]any, now time.Time) (time.Time, error) {
	sched, loc, err := parseSchedule(cfg)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now.In(loc)).UTC(), nil
}

func configString(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}
