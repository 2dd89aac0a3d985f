package step

import (
	"context"
	"errors"
	"maps"
	"strings"

	"github.com/magpieflow/magpie/internal/apicall"
	"github.com/magpieflow/magpie/internal/llm"
	"github.com/magpieflow/magpie/internal/notify"
	"github.com/magpieflow/magpie/internal/vars"
	"github.com/magpieflow/magpie/internal/workflow"
)

const (
	defaultSystemPrompt   = "You are a helpful assistant."
	defaultApprovalPrompt = "Please review and approve to continue"
)

func (e *Executor) runScript(ctx context.Context, req *Request) *workflow.StepResult {
	return e.deps.Sandbox.Run(ctx, req.Step.Code, req.Variables)
}

func (e *Executor) runAPICall(ctx context.Context, req *Request) *workflow.StepResult {
	formatted, _ := vars.FormatValue(req.Step.Config, req.Variables).(map[string]any)
	cfg, err := apicall.ParseConfig(formatted)
	if err != nil {
		return failureFrom(err)
	}
	return e.deps.API.Call(ctx, cfg)
}

func (e *Executor) runLLMCall(ctx context.Context, req *Request) *workflow.StepResult {
	cfg := req.Step.Config
	prompt := configString(cfg, "prompt")
	if strings.TrimSpace(prompt) == "" {
		return workflow.FailureResult(workflow.NewError(workflow.KindValidation,
			"llm_call step %q has no prompt", req.Step.Name))
	}
	system := configString(cfg, "system_prompt")
	if system == "" {
		system = defaultSystemPrompt
	}

	// Only the prompt is templated; the system prompt is taken verbatim so
	// braces in persona instructions survive.
	prompt = vars.Format(prompt, req.Variables)

	lreq := llm.Request{
		Model: configString(cfg, "model"),
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}
	if f, ok := asNumber(cfg["temperature"]); ok {
		lreq.Temperature = &f
	}
	if f, ok := asNumber(cfg["max_tokens"]); ok {
		lreq.MaxTokens = int(f)
	}

	resp, err := e.deps.LLM.Chat(ctx, lreq)
	if err != nil {
		return workflow.FailureResult(classifyLLMError(err))
	}
	return &workflow.StepResult{
		Success: true,
		Output: map[string]any{
			"response":      resp.Content,
			"raw_response":  resp.Content,
			"prompt":        prompt,
			"system_prompt": system,
			"model":         resp.Model,
		},
	}
}

func classifyLLMError(err error) *workflow.Error {
	switch {
	case errors.Is(err, context.Canceled):
		return workflow.NewError(workflow.KindCancelled, "llm call cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return workflow.NewError(workflow.KindTimeout, "llm call timed out")
	case llm.IsTransient(err):
		return workflow.NewError(workflow.KindNetworkFailure, "llm call failed: %v", err)
	default:
		return workflow.NewError(workflow.KindHTTPError, "llm call failed: %v", err)
	}
}

func (e *Executor) runCondition(ctx context.Context, req *Request) *workflow.StepResult {
	expr := configString(req.Step.Config, "condition")
	if strings.TrimSpace(expr) == "" {
		return workflow.FailureResult(workflow.NewError(workflow.KindValidation,
			"condition step %q has no expression", req.Step.Name))
	}
	met, err := workflow.EvalCondition(expr, req.Variables)
	if err != nil {
		return failureFrom(err)
	}
	return &workflow.StepResult{
		Success: true,
		Output: map[string]any{
			"condition_met": met,
			"condition":     expr,
		},
	}
}

func (e *Executor) runApproval(ctx context.Context, req *Request) *workflow.StepResult {
	msg := configString(req.Step.Config, "message")
	if msg == "" {
		msg = defaultApprovalPrompt
	}
	return &workflow.StepResult{
		Success:         true,
		WaitingApproval: true,
		Output: map[string]any{
			"result":            "waiting_approval",
			"requires_approval": true,
			"approval_message":  msg,
		},
	}
}

func (e *Executor) runNotification(ctx context.Context, req *Request) *workflow.StepResult {
	cfg := req.Step.Config
	kind := configString(cfg, "type")
	if kind == "" {
		kind = "log"
	}
	body := vars.Format(configString(cfg, "message"), req.Variables)
	msg := notify.Message{
		To:      vars.Format(configString(cfg, "to"), req.Variables),
		CC:      vars.Format(configString(cfg, "cc"), req.Variables),
		BCC:     vars.Format(configString(cfg, "bcc"), req.Variables),
		Subject: vars.Format(configString(cfg, "subject"), req.Variables),
		Body:    body,
	}
	msg.HTML, _ = cfg["html"].(bool)

	var sink notify.Notifier
	if kind == "email" {
		sink = e.deps.Email
	} else {
		sink = e.deps.Log
	}

	sendErr := notify.ErrNotConfigured
	if sink != nil {
		sendErr = sink.Send(ctx, msg)
	}
	if sendErr != nil {
		if fatal, _ := cfg["fail_on_error"].(bool); fatal {
			return workflow.FailureResult(workflow.NewError(workflow.KindNetworkFailure,
				"sending %s notification: %v", kind, sendErr))
		}
		e.logger.Warn("notification failed", "step", req.Step.Name, "type", kind, "error", sendErr)
		return &workflow.StepResult{
			Success: true,
			Output: map[string]any{
				"result":            body,
				"type":              kind,
				"notification_sent": false,
				"error":             sendErr.Error(),
			},
		}
	}
	return &workflow.StepResult{
		Success: true,
		Output: map[string]any{
			"result":            body,
			"type":              kind,
			"notification_sent": true,
		},
	}
}

func (e *Executor) runDataTransform(ctx context.Context, req *Request) *workflow.StepResult {
	rules, _ := req.Step.Config["rules"].([]any)
	if len(rules) == 0 {
		return workflow.FailureResult(workflow.NewError(workflow.KindValidation,
			"data_transform step %q has no rules", req.Step.Name))
	}

	// Rules are applied in order; each target becomes visible to the
	// expressions of later rules.
	view := maps.Clone(req.Variables)
	if view == nil {
		view = make(map[string]any)
	}
	out := make(map[string]any, len(rules))
	for i, raw := range rules {
		rule, _ := raw.(map[string]any)
		target := configString(rule, "target")
		expr := configString(rule, "expression")
		if target == "" || expr == "" {
			return workflow.FailureResult(workflow.NewError(workflow.KindValidation,
				"data_transform rule %d needs target and expression", i))
		}
		v, err := workflow.Eval(expr, view)
		if err != nil {
			return failureFrom(err)
		}
		out[target] = v
		view[target] = v
	}
	return &workflow.StepResult{Success: true, Output: out}
}

// failureFrom converts an error into a failed result, preserving the kind
// when the error is already classified.
func failureFrom(err error) *workflow.StepResult {
	var werr *workflow.Error
	if errors.As(err, &werr) {
		return workflow.FailureResult(werr)
	}
	return workflow.FailureResult(workflow.NewError(workflow.KindInternal, "%v", err))
}

func configString(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

// asNumber accepts the numeric shapes JSON decoding and Go literals produce.
func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
