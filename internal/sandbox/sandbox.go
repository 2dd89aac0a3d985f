// Package sandbox executes python_script step bodies in an isolated child
// process. The engine-script protocol: the script body and the current
// variables (as UTF-8 JSON) each go to a temp file, the interpreter runs
// `<script> --variables-file <vars>`, stdout comes back as the step output
// (JSON when valid, wrapped as {"result": ...} otherwise), stderr becomes
// the step's logs, and a non-zero exit fails the step with the stderr tail.
// The sandbox isolates the parent from crashes and runaway scripts; it does
// not try to contain hostile code.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/magpieflow/magpie/internal/logging"
	"github.com/magpieflow/magpie/internal/workflow"
)

const (
	// DefaultTimeout bounds one script run unless overridden.
	DefaultTimeout = 300 * time.Second

	// DefaultInterpreter is used when config names none.
	DefaultInterpreter = "python3"

	// maxStderrTail bounds how much stderr lands in the error message.
	// Full stderr is still available through the result logs.
	maxStderrTail = 500
)

// Runner executes script bodies with a fixed interpreter, timeout, and
// working directory. It is safe for concurrent use.
type Runner struct {
	interpreter string
	timeout     time.Duration
	workDir     string
	logger      *log.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithInterpreter sets the interpreter executable (path or name on PATH).
func WithInterpreter(path string) Option {
	return func(r *Runner) {
		if path != "" {
			r.interpreter = path
		}
	}
}

// WithTimeout sets the per-run timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithWorkDir sets the child's working directory. Empty means inherit.
func WithWorkDir(dir string) Option {
	return func(r *Runner) { r.workDir = dir }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a Runner with the package defaults.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		interpreter: DefaultInterpreter,
		timeout:     DefaultTimeout,
		logger:      logging.New("sandbox"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CheckInterpreter verifies the configured interpreter can be found. It
// returns a descriptive error when the executable is missing.
func (r *Runner) CheckInterpreter() error {
	if _, err := exec.LookPath(r.interpreter); err != nil {
		return fmt.Errorf("script interpreter %q not found: %w", r.interpreter, err)
	}
	return nil
}

// Run executes code with variables and interprets the exchange into a step
// result. Run never returns nil and never panics across the process
// boundary; every failure mode lands in the result as a classified error.
func (r *Runner) Run(ctx context.Context, code string, variables map[string]any) *workflow.StepResult {
	if strings.TrimSpace(code) == "" {
		return workflow.FailureResult(workflow.NewError(workflow.KindValidation, "python_script requires a code body"))
	}
	if variables == nil {
		variables = map[string]any{}
	}

	scriptPath, err := writeTemp("magpie-script-*.py", []byte(code))
	if err != nil {
		return workflow.FailureResult(workflow.NewError(workflow.KindInternal, "writing script file: %v", err))
	}
	defer removeQuiet(scriptPath)

	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return workflow.FailureResult(workflow.NewError(workflow.KindValidation, "variables not serializable: %v", err))
	}
	varsPath, err := writeTemp("magpie-vars-*.json", varsJSON)
	if err != nil {
		return workflow.FailureResult(workflow.NewError(workflow.KindInternal, "writing variables file: %v", err))
	}
	defer removeQuiet(varsPath)

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, r.interpreter, scriptPath, "--variables-file", varsPath)
	cmd.Dir = r.workDir
	// Force UTF-8 stdio in the child regardless of the platform's default
	// codec. The engine-script protocol is UTF-8 in both directions.
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONUTF8=1")
	setProcGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("executing script",
		"interpreter", r.interpreter,
		"code_bytes", len(code),
		"variables", len(variables),
		"timeout", r.timeout,
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	logs := splitLogs(decodeUTF8(stderr.Bytes()))

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return &workflow.StepResult{
			Success:   false,
			Output:    map[string]any{},
			Error:     "script cancelled",
			ErrorKind: workflow.KindCancelled,
			Logs:      logs,
		}
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		r.logger.Warn("script timed out", "timeout", r.timeout)
		return &workflow.StepResult{
			Success:   false,
			Output:    map[string]any{},
			Error:     fmt.Sprintf("script timed out after %s", r.timeout),
			ErrorKind: workflow.KindTimeout,
			Logs:      logs,
		}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			msg := fmt.Sprintf("script failed with exit code %d", exitErr.ExitCode())
			if tail := stderrTail(decodeUTF8(stderr.Bytes())); tail != "" {
				msg += ": " + tail
			}
			return &workflow.StepResult{
				Success:   false,
				Output:    map[string]any{},
				Error:     msg,
				ErrorKind: workflow.KindScriptFailure,
				Logs:      logs,
			}
		}
		return &workflow.StepResult{
			Success:   false,
			Output:    map[string]any{},
			Error:     fmt.Sprintf("running script: %v", runErr),
			ErrorKind: workflow.KindScriptFailure,
			Logs:      logs,
		}
	}

	r.logger.Debug("script finished", "duration", duration, "stdout_bytes", stdout.Len())

	return &workflow.StepResult{
		Success: true,
		Output:  parseStdout(decodeUTF8(stdout.Bytes())),
		Logs:    logs,
	}
}

// parseStdout folds trimmed stdout into the step output map: a JSON object
// passes through, any other JSON value or plain text is wrapped under
// "result" so the output shape stays uniform.
func parseStdout(s string) map[string]any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return map[string]any{"result": ""}
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return map[string]any{"result": trimmed}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": v}
}

// decodeUTF8 returns the bytes as a string with undecodable sequences
// replaced, per the protocol's encoding contract.
func decodeUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// splitLogs breaks stderr into lines for the result logs. Trailing blank
// lines are dropped; interior ones are kept.
func splitLogs(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// stderrTail returns the last maxStderrTail runes of trimmed stderr.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > maxStderrTail {
		return string(r[len(r)-maxStderrTail:])
	}
	return s
}

// writeTemp creates a temp file from pattern holding data and returns its
// path. The file is removed on write failure.
func writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		removeQuiet(f.Name())
		return "", werr
	}
	if cerr != nil {
		removeQuiet(f.Name())
		return "", cerr
	}
	return f.Name(), nil
}

func removeQuiet(path string) {
	_ = os.Remove(path)
}
