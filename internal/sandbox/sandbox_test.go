package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpieflow/magpie/internal/workflow"
)

// TestMain lets the test binary double as a fake interpreter: Run spawns it
// with the inherited environment, and the env gate flips the child into
// fakeInterpreterMain instead of the test runner.
func TestMain(m *testing.M) {
	if os.Getenv("MAGPIE_SANDBOX_FAKE") == "1" {
		fakeInterpreterMain()
		return
	}
	os.Setenv("MAGPIE_SANDBOX_FAKE", "1")
	os.Exit(m.Run())
}

// fakeScript is the directive format the fake interpreter executes. Tests
// pass a JSON-encoded fakeScript as the step's code body.
type fakeScript struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Exit      int    `json:"exit"`
	SleepMS   int    `json:"sleep_ms"`
	EchoVars  bool   `json:"echo_vars"`
	EchoEnv   string `json:"echo_env"`
	EchoPaths bool   `json:"echo_paths"`
}

func fakeInterpreterMain() {
	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: fake <script> --variables-file <vars>")
		os.Exit(64)
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "read script:", err)
		os.Exit(66)
	}
	var script fakeScript
	if err := json.Unmarshal(raw, &script); err != nil {
		fmt.Fprintln(os.Stderr, "bad script:", err)
		os.Exit(65)
	}
	var varsPath string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--variables-file" {
			varsPath = args[i+1]
		}
	}
	if script.SleepMS > 0 {
		time.Sleep(time.Duration(script.SleepMS) * time.Millisecond)
	}
	if script.EchoVars {
		data, err := os.ReadFile(varsPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read vars:", err)
			os.Exit(66)
		}
		os.Stdout.Write(data)
	}
	if script.EchoEnv != "" {
		fmt.Fprint(os.Stdout, os.Getenv(script.EchoEnv))
	}
	if script.EchoPaths {
		out, _ := json.Marshal(map[string]string{"script": args[0], "vars": varsPath})
		os.Stdout.Write(out)
	}
	if script.Stdout != "" {
		fmt.Fprint(os.Stdout, script.Stdout)
	}
	if script.Stderr != "" {
		fmt.Fprint(os.Stderr, script.Stderr)
	}
	os.Exit(script.Exit)
}

func code(t *testing.T, script fakeScript) string {
	t.Helper()
	raw, err := json.Marshal(script)
	require.NoError(t, err)
	return string(raw)
}

func newRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	all := append([]Option{
		WithInterpreter(os.Args[0]),
		WithLogger(log.New(io.Discard)),
	}, opts...)
	return NewRunner(all...)
}

func TestRun_JSONObjectStdout(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	res := r.Run(context.Background(), code(t, fakeScript{Stdout: `{"answer": 42, "ok": true}`}), nil)

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, map[string]any{"answer": float64(42), "ok": true}, res.Output)
	assert.Empty(t, res.Logs)
	assert.Empty(t, res.Error)
}

func TestRun_NonJSONStdoutWrapped(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	res := r.Run(context.Background(), code(t, fakeScript{Stdout: "hello world\n"}), nil)

	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"result": "hello world"}, res.Output)
}

func TestRun_JSONArrayStdoutWrapped(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	res := r.Run(context.Background(), code(t, fakeScript{Stdout: `[1, 2, 3]`}), nil)

	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"result": []any{float64(1), float64(2), float64(3)}}, res.Output)
}

func TestRun_EmptyStdout(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	res := r.Run(context.Background(), code(t, fakeScript{}), nil)

	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"result": ""}, res.Output)
}

func TestRun_StderrBecomesLogs(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	res := r.Run(context.Background(), code(t, fakeScript{
		Stdout: `{"done": true}`,
		Stderr: "step one\nstep two\n",
	}), nil)

	require.True(t, res.Success)
	assert.Equal(t, []string{"step one", "step two"}, res.Logs)
}

func TestRun_NonZeroExit(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	res := r.Run(context.Background(), code(t, fakeScript{Exit: 3, Stderr: "boom\n"}), nil)

	require.False(t, res.Success)
	assert.Equal(t, workflow.KindScriptFailure, res.ErrorKind)
	assert.Contains(t, res.Error, "exit code 3")
	assert.Contains(t, res.Error, "boom")
	assert.Equal(t, []string{"boom"}, res.Logs)
}

func TestRun_StderrTailTruncated(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	long := ""
	for i := 0; i < 200; i++ {
		long += fmt.Sprintf("line %d\n", i)
	}
	res := r.Run(context.Background(), code(t, fakeScript{Exit: 1, Stderr: long}), nil)

	require.False(t, res.Success)
	assert.LessOrEqual(t, len(res.Error), maxStderrTail+len("script failed with exit code 1: "))
	assert.Contains(t, res.Error, "line 199")
	assert.NotContains(t, res.Error, "line 0\n")
	// Full stderr still lands in the logs.
	assert.Len(t, res.Logs, 200)
}

func TestRun_VariablesRoundTrip(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	vars := map[string]any{"city": "Seoul", "count": float64(3), "nested": map[string]any{"ok": true}}
	res := r.Run(context.Background(), code(t, fakeScript{EchoVars: true}), vars)

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, vars, res.Output)
}

func TestRun_NilVariablesWriteEmptyObject(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	res := r.Run(context.Background(), code(t, fakeScript{EchoVars: true}), nil)

	require.True(t, res.Success)
	assert.Equal(t, map[string]any{}, res.Output)
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()
	r := newRunner(t, WithTimeout(100*time.Millisecond))

	start := time.Now()
	res := r.Run(context.Background(), code(t, fakeScript{SleepMS: 10_000}), nil)
	elapsed := time.Since(start)

	require.False(t, res.Success)
	assert.Equal(t, workflow.KindTimeout, res.ErrorKind)
	assert.Contains(t, res.Error, "timed out")
	assert.Less(t, elapsed, 5*time.Second, "process tree should be killed promptly")
}

func TestRun_ContextCancelled(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	res := r.Run(ctx, code(t, fakeScript{SleepMS: 10_000}), nil)

	require.False(t, res.Success)
	assert.Equal(t, workflow.KindCancelled, res.ErrorKind)
}

func TestRun_ForcesUTF8Env(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	res := r.Run(context.Background(), code(t, fakeScript{EchoEnv: "PYTHONIOENCODING"}), nil)

	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"result": "utf-8"}, res.Output)
}

func TestRun_TempFilesRemoved(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	res := r.Run(context.Background(), code(t, fakeScript{EchoPaths: true}), nil)

	require.True(t, res.Success)
	scriptPath, _ := res.Output["script"].(string)
	varsPath, _ := res.Output["vars"].(string)
	require.NotEmpty(t, scriptPath)
	require.NotEmpty(t, varsPath)

	_, err := os.Stat(scriptPath)
	assert.True(t, os.IsNotExist(err), "script file should be cleaned up")
	_, err = os.Stat(varsPath)
	assert.True(t, os.IsNotExist(err), "variables file should be cleaned up")
}

func TestRun_EmptyCodeRejected(t *testing.T) {
	t.Parallel()
	r := newRunner(t)

	res := r.Run(context.Background(), "   \n", nil)

	require.False(t, res.Success)
	assert.Equal(t, workflow.KindValidation, res.ErrorKind)
}

func TestRun_InterpreterMissing(t *testing.T) {
	t.Parallel()
	r := NewRunner(
		WithInterpreter("/nonexistent/interpreter"),
		WithLogger(log.New(io.Discard)),
	)

	res := r.Run(context.Background(), code(t, fakeScript{}), nil)

	require.False(t, res.Success)
	assert.Equal(t, workflow.KindScriptFailure, res.ErrorKind)
}

func TestCheckInterpreter(t *testing.T) {
	t.Parallel()

	ok := NewRunner(WithInterpreter(os.Args[0]), WithLogger(log.New(io.Discard)))
	assert.NoError(t, ok.CheckInterpreter())

	missing := NewRunner(WithInterpreter("/nonexistent/interpreter"), WithLogger(log.New(io.Discard)))
	assert.Error(t, missing.CheckInterpreter())
}

func TestParseStdout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{"object", `{"a": 1}`, map[string]any{"a": float64(1)}},
		{"object with whitespace", "\n  {\"a\": 1}\n", map[string]any{"a": float64(1)}},
		{"scalar wrapped", `42`, map[string]any{"result": float64(42)}},
		{"string literal wrapped", `"hi"`, map[string]any{"result": "hi"}},
		{"plain text wrapped", "not json", map[string]any{"result": "not json"}},
		{"empty", "", map[string]any{"result": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseStdout(tt.in))
		})
	}
}

func TestSplitLogs(t *testing.T) {
	t.Parallel()

	assert.Nil(t, splitLogs(""))
	assert.Equal(t, []string{"one"}, splitLogs("one\n"))
	assert.Equal(t, []string{"one", "", "two"}, splitLogs("one\n\ntwo\n"))
}
