package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/workflow"
)

// eventLogLines is how many recent engine events the view keeps visible.
const eventLogLines = 6

// RunFinishedMsg is sent by the caller when the runner returns. It carries
// the persisted execution row (possibly nil on infrastructure errors).
type RunFinishedMsg struct {
	Execution *store.Execution
	Err       error
}

// eventMsg wraps one engine event for the bubbletea update loop.
type eventMsg workflow.Event

// tickMsg drives the elapsed-time display.
type tickMsg time.Time

// stepRow is one step's display state.
type stepRow struct {
	id       string
	name     string
	stepType workflow.StepType
	status   workflow.StepStatus
}

// Watch is the live step view for one execution. It owns nothing but its
// display state; the execution runs on the caller's goroutine and feeds the
// model through the events channel and a final RunFinishedMsg.
type Watch struct {
	workflowName string
	steps        []stepRow
	index        map[string]int // step id -> steps index

	events <-chan workflow.Event
	log    []string

	spinner  spinner.Model
	theme    Theme
	started  time.Time
	elapsed  time.Duration
	finished bool
	aborted  bool
	final    *store.Execution
	finalErr error
}

// NewWatch builds the watch model for a workflow's ordered step list.
func NewWatch(workflowName string, steps []workflow.Step, events <-chan workflow.Event) *Watch {
	ordered := make([]workflow.Step, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Order != ordered[j].Order {
			return ordered[i].Order < ordered[j].Order
		}
		return ordered[i].ID < ordered[j].ID
	})

	rows := make([]stepRow, len(ordered))
	index := make(map[string]int, len(ordered))
	for i, s := range ordered {
		rows[i] = stepRow{id: s.ID, name: s.Name, stepType: s.Type, status: workflow.StepStatusPending}
		index[s.ID] = i
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = sp.Style.Foreground(ColorPrimary)

	return &Watch{
		workflowName: workflowName,
		steps:        rows,
		index:        index,
		events:       events,
		spinner:      sp,
		theme:        DefaultTheme(),
		started:      time.Now(),
	}
}

// Init starts the spinner, the elapsed ticker, and the event pump.
func (w *Watch) Init() tea.Cmd {
	return tea.Batch(w.spinner.Tick, w.tick(), w.nextEvent())
}

// nextEvent blocks on the engine event channel. A closed channel ends the
// pump; the final state then arrives via RunFinishedMsg.
func (w *Watch) nextEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-w.events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (w *Watch) tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (w *Watch) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !w.finished {
				w.aborted = true
			}
			return w, tea.Quit
		}

	case eventMsg:
		w.apply(workflow.Event(msg))
		return w, w.nextEvent()

	case tickMsg:
		if !w.finished {
			w.elapsed = time.Since(w.started)
			return w, w.tick()
		}

	case RunFinishedMsg:
		w.finished = true
		w.final = msg.Execution
		w.finalErr = msg.Err
		w.elapsed = time.Since(w.started)
		return w, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		w.spinner, cmd = w.spinner.Update(msg)
		return w, cmd
	}
	return w, nil
}

// apply folds one engine event into the display state.
func (w *Watch) apply(ev workflow.Event) {
	if ev.StepID != "" {
		if i, ok := w.index[ev.StepID]; ok && ev.Status != "" {
			w.steps[i].status = ev.Status
		}
	}

	line := ev.Message
	if ev.Error != "" {
		line = fmt.Sprintf("%s: %s", ev.Message, ev.Error)
	}
	if line == "" {
		return
	}
	stamp := ev.Timestamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	w.log = append(w.log, fmt.Sprintf("%s %s", stamp.Local().Format("15:04:05"), line))
	if len(w.log) > eventLogLines {
		w.log = w.log[len(w.log)-eventLogLines:]
	}
}

// Aborted reports whether the user quit the view before the run finished.
func (w *Watch) Aborted() bool { return w.aborted }

// View implements tea.Model.
func (w *Watch) View() string {
	var sb strings.Builder

	header := fmt.Sprintf("%s %s", w.theme.Title.Render(w.workflowName), w.theme.Help.Render(w.elapsed.Truncate(100*time.Millisecond).String()))
	if !w.finished {
		header = w.spinner.View() + " " + header
	}
	sb.WriteString(header)
	sb.WriteString("\n\n")

	for _, row := range w.steps {
		sb.WriteString(fmt.Sprintf("  %s %s %s\n",
			w.statusIcon(row.status),
			w.theme.StepName.Render(row.name),
			w.theme.StepType.Render("("+string(row.stepType)+")"),
		))
	}

	if len(w.log) > 0 {
		sb.WriteString("\n")
		for _, line := range w.log {
			sb.WriteString("  " + w.theme.EventLine.Render(line) + "\n")
		}
	}

	sb.WriteString("\n")
	switch {
	case w.finished && w.finalErr != nil:
		sb.WriteString(w.theme.FailBanner.Render("run failed: "+w.finalErr.Error()) + "\n")
	case w.finished && w.final != nil:
		sb.WriteString(w.banner(w.final) + "\n")
	default:
		sb.WriteString(w.theme.Help.Render("q to stop the run") + "\n")
	}
	return sb.String()
}

// banner renders the terminal line for a finished execution.
func (w *Watch) banner(exec *store.Execution) string {
	switch exec.Status {
	case workflow.ExecSuccess:
		return w.theme.DoneBanner.Render(fmt.Sprintf("completed in %.1fs", exec.DurationSeconds))
	case workflow.ExecWaitingApproval:
		return w.theme.Waiting.Render("waiting for approval -- decide with: magpie resume " + exec.ID)
	case workflow.ExecCancelled:
		return w.theme.Help.Render("cancelled")
	default:
		msg := string(exec.Status)
		if exec.ErrorMessage != "" {
			msg += ": " + exec.ErrorMessage
		}
		return w.theme.FailBanner.Render(msg)
	}
}

// statusIcon maps a step status to its colored marker.
func (w *Watch) statusIcon(s workflow.StepStatus) string {
	switch s {
	case workflow.StepStatusRunning:
		return w.theme.Running.Render("▶")
	case workflow.StepStatusSuccess:
		return w.theme.Success.Render("✓")
	case workflow.StepStatusFailed:
		return w.theme.Failed.Render("✗")
	case workflow.StepStatusSkipped:
		return w.theme.Skipped.Render("−")
	case workflow.StepStatusWaitingApproval:
		return w.theme.Waiting.Render("⏸")
	default:
		return w.theme.Pending.Render("·")
	}
}
