// Package assist implements the contract the authoring agents consume:
// knowledge retrieval rendered into prompt context, script validation, and
// guarded persistence. Builder and Modifier sit on top as the two authoring
// loops, one starting from a plain-language description and one from an
// existing definition plus a change request or failure evidence. Drafts
// whose scripts fail validation get exactly one repair round-trip; findings
// that survive it stay attached to the draft, and persistence rejects them.
package assist

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/magpieflow/magpie/internal/knowledge"
	"github.com/magpieflow/magpie/internal/llm"
	"github.com/magpieflow/magpie/internal/logging"
	"github.com/magpieflow/magpie/internal/pycheck"
	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/workflow"
)

// Purpose selects which document categories a retrieval consults first.
type Purpose string

const (
	// PurposeCreate gathers patterns and templates for authoring a new
	// definition.
	PurposeCreate Purpose = "create"

	// PurposeFix gathers known error solutions for repairing a failed one.
	PurposeFix Purpose = "fix"
)

const (
	// contextBudgetTokens bounds the rendered context window.
	contextBudgetTokens = 30000

	// perCategoryLimit is how many hits each routed category contributes.
	perCategoryLimit = 5

	// contextTopHits caps the merged hit list before rendering.
	contextTopHits = 10
)

// purposeCategories maps each purpose to the document categories consulted
// first. When none of them yields a hit the query falls through to an
// unfiltered search.
var purposeCategories = map[Purpose][]store.DocumentCategory{
	PurposeCreate: {
		store.CategoryWorkflowPatterns,
		store.CategoryBestPractices,
		store.CategoryCodeTemplates,
	},
	PurposeFix: {
		store.CategoryErrorSolutions,
		store.CategoryWorkflowPatterns,
	},
}

// Chatter is the slice of the LLM client the authoring loops need.
type Chatter interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Service bundles retrieval, script validation, and guarded persistence.
type Service struct {
	store     *store.Store
	knowledge *knowledge.Service
	logger    *log.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wires the assist surface.
func NewService(st *store.Store, kb *knowledge.Service, opts ...Option) (*Service, error) {
	s := &Service{
		store:     st,
		knowledge: kb,
		logger:    logging.New("assist"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RetrieveContext renders a knowledge context window for an authoring
// prompt. The purpose picks the document categories consulted first; when
// that pass yields nothing the query falls through to an unfiltered search.
// Per-category search failures are logged and skipped so a degraded index
// still returns whatever context it can.
func (s *Service) RetrieveContext(ctx context.Context, query string, purpose Purpose) (string, error) {
	categories, ok := purposeCategories[purpose]
	if !ok {
		return "", fmt.Errorf("unknown retrieval purpose %q", purpose)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}

	best := make(map[string]knowledge.Hit)
	for _, category := range categories {
		hits, err := s.knowledge.Search(ctx, query,
			knowledge.InCategory(category), knowledge.WithLimit(perCategoryLimit))
		if err != nil {
			s.logger.Warn("category search failed", "category", category, "error", err)
			continue
		}
		for _, h := range hits {
			if prev, seen := best[h.Document.ID]; !seen || h.Score > prev.Score {
				best[h.Document.ID] = h
			}
		}
	}

	merged := make([]knowledge.Hit, 0, len(best))
	for _, h := range best {
		merged = append(merged, h)
	}
	if len(merged) == 0 {
		all, err := s.knowledge.Search(ctx, query, knowledge.WithLimit(contextTopHits))
		if err != nil {
			return "", fmt.Errorf("searching knowledge base: %w", err)
		}
		merged = all
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Document.ID < merged[j].Document.ID
	})
	if len(merged) > contextTopHits {
		merged = merged[:contextTopHits]
	}

	body := s.knowledge.BuildContext(merged, contextBudgetTokens)
	if body == "" {
		return "", nil
	}
	return wrapContext(purpose, body), nil
}

// wrapContext frames rendered entries so the model knows what the block is
// for.
func wrapContext(purpose Purpose, body string) string {
	if purpose == PurposeFix {
		return "## Error Resolution Context\n\n" + body +
			"\nUse this context to fix the error and improve the workflow."
	}
	return "## Relevant Knowledge Base Context\n\n" + body +
		"\nUse this context to generate a more accurate and complete workflow."
}

// ValidateCode checks a python_script body without running it.
func (s *Service) ValidateCode(ctx context.Context, code string) pycheck.Result {
	return pycheck.Validate(ctx, code)
}

// ValidationError rejects a definition that failed structural or script
// validation. Findings hold one human-readable line per problem.
type ValidationError struct {
	Findings []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch len(e.Findings) {
	case 0:
		return "workflow rejected"
	case 1:
		return "workflow rejected: " + e.Findings[0]
	default:
		return fmt.Sprintf("workflow rejected: %d problems, first: %s",
			len(e.Findings), e.Findings[0])
	}
}

// PersistWorkflow validates a definition and saves it, allocating a new
// version. Structural problems and fatal script issues reject the whole
// definition with a *ValidationError; warnings never block persistence.
func (s *Service) PersistWorkflow(ctx context.Context, wf *workflow.Workflow, changeSummary string) (string, error) {
	if wf == nil {
		return "", fmt.Errorf("workflow is nil")
	}

	var findings []string
	for _, err := range workflow.ValidateDefinition(wf) {
		findings = append(findings, err.Error())
	}
	findings = append(findings, s.scriptFindings(ctx, wf)...)
	if len(findings) > 0 {
		return "", &ValidationError{Findings: findings}
	}

	if err := s.store.SaveWorkflow(wf, changeSummary); err != nil {
		return "", fmt.Errorf("saving workflow: %w", err)
	}
	s.logger.Info("persisted workflow", "id", wf.ID, "name", wf.Name, "version", wf.Version)
	return wf.ID, nil
}

// scriptFindings runs the script validator over every python_script body and
// returns one labeled line per fatal issue. Empty bodies are the structural
// validator's problem, not ours.
func (s *Service) scriptFindings(ctx context.Context, wf *workflow.Workflow) []string {
	var out []string
	for i := range wf.Steps {
		st := &wf.Steps[i]
		if st.Type != workflow.StepPythonScript || strings.TrimSpace(st.Code) == "" {
			continue
		}
		res := pycheck.Validate(ctx, st.Code)
		for _, iss := range res.Issues {
			if iss.Severity == pycheck.SeverityError {
				out = append(out, fmt.Sprintf("step %q: %s", st.Name, iss.Message))
			}
		}
	}
	return out
}
