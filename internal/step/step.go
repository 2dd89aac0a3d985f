// Package step dispatches workflow steps to their type handlers. The
// Executor implements the engine's StepRunner seam: it projects the step's
// input mapping onto the workflow variables and branches on step type. Each
// handler returns a structured StepResult; nothing here raises across the
// engine boundary.
package step

import (
	"context"
	"fmt"
	"maps"

	"github.com/charmbracelet/log"

	"github.com/magpieflow/magpie/internal/apicall"
	"github.com/magpieflow/magpie/internal/llm"
	"github.com/magpieflow/magpie/internal/logging"
	"github.com/magpieflow/magpie/internal/notify"
	"github.com/magpieflow/magpie/internal/workflow"
)

// Request is what a handler receives: the step plus the projected variable
// view and the outputs of prior steps.
type Request struct {
	Step      *workflow.Step
	Variables map[string]any
	Outputs   map[string]any
}

// HandlerFunc executes one step type.
type HandlerFunc func(ctx context.Context, req *Request) *workflow.StepResult

// Chatter is the slice of the LLM client the llm_call handler needs.
type Chatter interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ScriptRunner is the slice of the sandbox the python_script handler needs.
type ScriptRunner interface {
	Run(ctx context.Context, code string, variables map[string]any) *workflow.StepResult
}

// APICaller is the slice of the REST client the api_call handler needs.
type APICaller interface {
	Call(ctx context.Context, cfg *apicall.Config) *workflow.StepResult
}

// Deps carries the transports handlers dispatch to. A nil transport leaves
// its step type unregistered, so running such a step reports a structured
// failure instead of a crash. Log defaults to the standard log notifier.
type Deps struct {
	Sandbox ScriptRunner
	API     APICaller
	LLM     Chatter
	Log     notify.Notifier
	Email   notify.Notifier
}

// Executor routes steps to registered handlers.
type Executor struct {
	deps     Deps
	handlers map[workflow.StepType]HandlerFunc
	logger   *log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor builds an executor with the built-in handler set. Handlers
// whose transport is missing are not registered.
func NewExecutor(deps Deps, opts ...Option) *Executor {
	e := &Executor{
		deps:     deps,
		handlers: make(map[workflow.StepType]HandlerFunc),
		logger:   logging.New("step"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.deps.Log == nil {
		e.deps.Log = notify.NewLogNotifier(e.logger)
	}

	if e.deps.Sandbox != nil {
		e.Register(workflow.StepPythonScript, e.runScript)
	}
	if e.deps.API != nil {
		e.Register(workflow.StepAPICall, e.runAPICall)
	}
	if e.deps.LLM != nil {
		e.Register(workflow.StepLLMCall, e.runLLMCall)
	}
	e.Register(workflow.StepCondition, e.runCondition)
	e.Register(workflow.StepApproval, e.runApproval)
	e.Register(workflow.StepNotification, e.runNotification)
	e.Register(workflow.StepDataTransform, e.runDataTransform)
	return e
}

// Register installs a handler for a step type. Registering the same type
// twice panics: a silent overwrite would change step semantics for every
// workflow in the store.
func (e *Executor) Register(t workflow.StepType, h HandlerFunc) {
	if h == nil {
		panic("step: Register called with nil handler")
	}
	if _, dup := e.handlers[t]; dup {
		panic(fmt.Sprintf("step: duplicate handler for step type %q", t))
	}
	e.handlers[t] = h
}

// RunStep implements workflow.StepRunner.
func (e *Executor) RunStep(ctx context.Context, st *workflow.Step, variables, outputs map[string]any) *workflow.StepResult {
	h, ok := e.handlers[st.Type]
	if !ok {
		return workflow.FailureResult(workflow.NewError(workflow.KindValidation,
			"no handler registered for step type %q", st.Type))
	}
	return h(ctx, &Request{
		Step:      st,
		Variables: e.projectInput(st, variables),
		Outputs:   outputs,
	})
}

// projectInput builds the per-step view V': the workflow variables plus,
// for each input mapping entry, V'[local] = variables[workflow]. Missing
// workflow names are tolerated and logged.
func (e *Executor) projectInput(st *workflow.Step, variables map[string]any) map[string]any {
	view := maps.Clone(variables)
	if view == nil {
		view = make(map[string]any)
	}
	for local, source := range st.InputMapping {
		v, ok := variables[source]
		if !ok {
			e.logger.Warn("input variable not found",
				"step", st.Name, "local", local, "variable", source)
			continue
		}
		view[local] = v
	}
	return view
}
