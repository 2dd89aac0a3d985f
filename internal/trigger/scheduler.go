package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/magpieflow/magpie/internal/logging"
	"github.com/magpieflow/magpie/internal/runner"
	"github.com/magpieflow/magpie/internal/store"
)

const (
	// DefaultCheckInterval is how often the scheduler polls for due
	// triggers when no interval is configured.
	DefaultCheckInterval = 60 * time.Second

	defaultDispatchLimit = 4
)

// WorkflowRunner starts executions for fired triggers. *runner.Runner
// satisfies it; tests substitute a recorder.
type WorkflowRunner interface {
	Execute(ctx context.Context, req runner.RunRequest) (*store.Execution, error)
}

// Scheduler polls for due scheduled triggers and dispatches them through
// the runner. One Scheduler per process; ticks never overlap.
type Scheduler struct {
	triggers *Manager
	runner   WorkflowRunner
	interval time.Duration
	limit    int
	logger   *log.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithDispatchLimit caps how many due triggers run concurrently in one tick.
func WithDispatchLimit(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger *log.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// NewScheduler creates a Scheduler over the trigger manager and runner.
func NewScheduler(triggers *Manager, r WorkflowRunner, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		triggers: triggers,
		runner:   r,
		interval: DefaultCheckInterval,
		limit:    defaultDispatchLimit,
		logger:   logging.New("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run polls until ctx is cancelled. The first pass happens immediately,
// then every interval. Cancellation is the normal shutdown path and
// returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx, time.Now().UTC()); err != nil {
			s.logger.Error("scheduling pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one scheduling pass: load the triggers due at now, execute each
// through the runner, and advance their schedules. Per-trigger failures are
// logged and do not stop the pass; the error return covers the pass itself
// (store access, context cancellation).
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	due, err := s.triggers.Due(now)
	if err != nil {
		return fmt.Errorf("listing due triggers: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	s.logger.Info("due triggers found", "count", len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for _, t := range due {
		g.Go(func() error {
			if err := s.fire(gctx, t); err != nil {
				// A failed trigger stays due and retries next tick.
				s.logger.Error("trigger execution failed",
					"trigger", t.ID, "name", t.Name, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ExecuteOnce fires one trigger immediately, bypassing its schedule. The
// trigger must exist and be enabled.
func (s *Scheduler) ExecuteOnce(ctx context.Context, triggerID string) (*store.Execution, error) {
	t, err := s.triggers.Get(triggerID)
	if err != nil {
		return nil, err
	}
	if !t.Enabled {
		return nil, fmt.Errorf("trigger %s is disabled", triggerID)
	}

	exec, err := s.runner.Execute(ctx, runner.RunRequest{
		WorkflowID: t.WorkflowID,
		TriggerID:  t.ID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.triggers.MarkExecuted(t.ID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return exec, nil
}

// fire starts one execution and, if the runner accepted it, advances the
// trigger's schedule. Workflow-level failures are on the execution row and
// still count as a firing.
func (s *Scheduler) fire(ctx context.Context, t *store.Trigger) error {
	exec, err := s.runner.Execute(ctx, runner.RunRequest{
		WorkflowID: t.WorkflowID,
		TriggerID:  t.ID,
	})
	if err != nil {
		return err
	}
	s.logger.Info("trigger fired",
		"trigger", t.ID, "name", t.Name, "execution", exec.ID, "status", exec.Status)
	return s.triggers.MarkExecuted(t.ID, time.Now().UTC())
}
