package assist

import (
	"context"
	"fmt"
	"strings"

	"github.com/magpieflow/magpie/internal/llm"
	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/workflow"
)

// Modifier revises existing definitions: plain change requests and
// fix-after-failure rounds seeded with execution evidence.
type Modifier struct {
	svc  *Service
	chat Chatter
}

// NewModifier returns a Modifier over the assist service and an LLM client.
func NewModifier(svc *Service, chat Chatter) *Modifier {
	return &Modifier{svc: svc, chat: chat}
}

// ModifyRequest describes one modification round.
type ModifyRequest struct {
	// Workflow is the current definition.
	Workflow *workflow.Workflow

	// Request says what to change.
	Request string

	// ErrorLogs optionally carries evidence from a failed run. When set,
	// retrieval consults the error-solution domains instead of the
	// authoring ones.
	ErrorLogs string
}

// Modify asks the model for a complete revised definition. Same fix-round
// discipline as Build: scripts that fail validation get one repair
// round-trip, and surviving findings ride back on the draft.
func (m *Modifier) Modify(ctx context.Context, req ModifyRequest) (*Draft, error) {
	if req.Workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if strings.TrimSpace(req.Request) == "" {
		return nil, fmt.Errorf("modification request is required")
	}

	purpose, query := PurposeCreate, req.Request
	if req.ErrorLogs != "" {
		purpose, query = PurposeFix, req.ErrorLogs
	}
	system := modifierSystemPrompt
	kb, err := m.svc.RetrieveContext(ctx, query, purpose)
	if err != nil {
		m.svc.logger.Warn("context retrieval failed", "error", err)
	} else if kb != "" {
		system += "\n\n" + kb
	}

	prompt, err := modifyPrompt(req)
	if err != nil {
		return nil, err
	}
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: prompt},
	}
	draft, err := m.svc.converse(ctx, m.chat, messages)
	if err != nil {
		return nil, err
	}
	draft.ContextUsed = kb != ""
	return draft, nil
}

// FixRequest assembles a ModifyRequest from a failed execution's record, in
// the shape Modify expects for fix-after-failure rounds.
func FixRequest(wf *workflow.Workflow, exec *store.Execution) ModifyRequest {
	var sb strings.Builder
	if exec.ErrorStepID != "" {
		fmt.Fprintf(&sb, "Failed step: %s\n", exec.ErrorStepID)
	}
	fmt.Fprintf(&sb, "Error: %s\n", exec.ErrorMessage)
	if len(exec.Logs) > 0 {
		sb.WriteString("\nExecution logs:\n")
		for _, line := range tailLines(exec.Logs, 40) {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	request := "Fix the error from the last run"
	if exec.ErrorMessage != "" {
		request += ": " + exec.ErrorMessage
	}
	return ModifyRequest{
		Workflow:  wf,
		Request:   request,
		ErrorLogs: sb.String(),
	}
}

// tailLines keeps the last n entries; early log lines rarely explain a
// failure and burn prompt budget.
func tailLines(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
