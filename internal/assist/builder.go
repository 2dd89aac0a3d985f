package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/magpieflow/magpie/internal/jsonutil"
	"github.com/magpieflow/magpie/internal/llm"
	"github.com/magpieflow/magpie/internal/workflow"
)

// Draft is an authored definition plus what the model reported about it.
// Drafts are not persisted; that is PersistWorkflow's job.
type Draft struct {
	// Workflow is the decoded definition.
	Workflow *workflow.Workflow

	// Changes is the model's own summary of what it changed.
	Changes []string

	// Issues holds fatal script findings still present after the fix
	// round. Persisting a draft with issues will be rejected.
	Issues []string

	// ContextUsed reports whether knowledge context backed the prompt.
	ContextUsed bool
}

// NeedMoreInfoError is returned when the model asks clarifying questions
// instead of producing a definition.
type NeedMoreInfoError struct {
	Questions []string
}

// Error implements the error interface.
func (e *NeedMoreInfoError) Error() string {
	return fmt.Sprintf("more information needed (%d questions)", len(e.Questions))
}

// Builder authors workflow definitions from plain-language descriptions.
type Builder struct {
	svc  *Service
	chat Chatter
}

// NewBuilder returns a Builder over the assist service and an LLM client.
func NewBuilder(svc *Service, chat Chatter) *Builder {
	return &Builder{svc: svc, chat: chat}
}

// Build authors a definition from a description in one shot. The prompt is
// backed by retrieved knowledge context when any matches. A reply that only
// asks questions becomes a *NeedMoreInfoError; a definition whose scripts
// fail validation gets one fix round-trip before the remaining findings are
// attached to the draft.
func (b *Builder) Build(ctx context.Context, description string) (*Draft, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("description is required")
	}

	system := builderSystemPrompt
	kb, err := b.svc.RetrieveContext(ctx, description, PurposeCreate)
	if err != nil {
		b.svc.logger.Warn("context retrieval failed", "error", err)
	} else if kb != "" {
		system += "\n\n" + kb
	}

	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: buildPrompt(description)},
	}
	draft, err := b.svc.converse(ctx, b.chat, messages)
	if err != nil {
		return nil, err
	}
	draft.ContextUsed = kb != ""
	return draft, nil
}

// converse runs one authoring exchange: call the model, decode the reply
// into a definition, and when script validation fails issue exactly one fix
// round-trip. Findings that survive the fix round ride back on the draft
// rather than failing it; persistence is where they become fatal.
func (s *Service) converse(ctx context.Context, chat Chatter, messages []llm.Message) (*Draft, error) {
	resp, err := chat.Chat(ctx, llm.Request{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	draft, err := decodeDefinition(resp.Content)
	if err != nil {
		return nil, err
	}

	findings := s.scriptFindings(ctx, draft.Workflow)
	if len(findings) == 0 {
		return draft, nil
	}
	s.logger.Info("draft has script problems, requesting a fix", "count", len(findings))

	messages = append(messages,
		llm.Message{Role: "assistant", Content: resp.Content},
		llm.Message{Role: "user", Content: fixPrompt(findings)},
	)
	resp, err = chat.Chat(ctx, llm.Request{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("fix round: %w", err)
	}
	fixed, err := decodeDefinition(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("fix round: %w", err)
	}
	if len(fixed.Changes) == 0 {
		fixed.Changes = draft.Changes
	}
	fixed.Issues = s.scriptFindings(ctx, fixed.Workflow)
	return fixed, nil
}

// replyEnvelope is the reply shape the prompts ask for. Models sometimes
// skip the envelope and return the definition bare; both forms decode.
type replyEnvelope struct {
	Workflow  json.RawMessage `json:"workflow"`
	Changes   []string        `json:"changes"`
	Questions []string        `json:"questions"`
	Ready     *bool           `json:"ready"`
}

// decodeDefinition pulls a workflow definition out of a model reply. Every
// JSON candidate in the text is considered: the envelope form wins
// regardless of position, a bare definition object is the fallback, and a
// reply that only asks questions becomes a *NeedMoreInfoError.
func decodeDefinition(reply string) (*Draft, error) {
	candidates := jsonutil.ExtractAll(reply)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no JSON in model reply")
	}

	var questions []string
	for _, raw := range candidates {
		var env replyEnvelope
		if json.Unmarshal(raw, &env) != nil {
			continue
		}
		if len(env.Workflow) > 0 && string(env.Workflow) != "null" {
			var wf workflow.Workflow
			if err := json.Unmarshal(env.Workflow, &wf); err != nil {
				return nil, fmt.Errorf("decoding definition: %w", err)
			}
			if plausibleDefinition(&wf) {
				return &Draft{Workflow: &wf, Changes: env.Changes}, nil
			}
		}
		if len(env.Questions) > 0 && questions == nil {
			questions = env.Questions
		}
	}

	for _, raw := range candidates {
		var wf workflow.Workflow
		if json.Unmarshal(raw, &wf) == nil && plausibleDefinition(&wf) {
			return &Draft{Workflow: &wf}, nil
		}
	}

	if questions != nil {
		return nil, &NeedMoreInfoError{Questions: questions}
	}
	return nil, fmt.Errorf("model reply contains no workflow definition")
}

// plausibleDefinition filters JSON objects that decoded into a Workflow but
// clearly are not one.
func plausibleDefinition(wf *workflow.Workflow) bool {
	return wf.Name != "" && len(wf.Steps) > 0
}
