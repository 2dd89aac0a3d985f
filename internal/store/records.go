package store

import (
	"time"

	"github.com/magpieflow/magpie/internal/workflow"
)

// WorkflowVersion is one entry in a workflow's version history. Snapshot
// holds the complete definition as saved, so any version can be restored.
type WorkflowVersion struct {
	WorkflowID    string             `json:"workflow_id"`
	Version       int                `json:"version"`
	ChangeSummary string             `json:"change_summary,omitempty"`
	Snapshot      *workflow.Workflow `json:"snapshot"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Execution is one workflow run. Terminal executions are immutable except
// for Annotations, which monitoring may add at any time.
type Execution struct {
	ID              string                   `json:"id"`
	WorkflowID      string                   `json:"workflow_id"`
	WorkflowName    string                   `json:"workflow_name,omitempty"`
	WorkflowVersion int                      `json:"workflow_version,omitempty"`
	TriggerID       string                   `json:"trigger_id,omitempty"`
	Status          workflow.ExecutionStatus `json:"status"`
	InputData       map[string]any           `json:"input_data,omitempty"`
	OutputData      map[string]any           `json:"output_data,omitempty"`
	ErrorMessage    string                   `json:"error_message,omitempty"`
	ErrorStepID     string                   `json:"error_step_id,omitempty"`
	Logs            []string                 `json:"logs,omitempty"`
	Annotations     map[string]string        `json:"annotations,omitempty"`
	StartedAt       *time.Time               `json:"started_at,omitempty"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty"`
	DurationSeconds float64                  `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
}

// StepExecution is one step's row within an execution, upserted as the step
// progresses. Order mirrors the step's position so listings read in
// execution order.
type StepExecution struct {
	ID              string              `json:"id"`
	ExecutionID     string              `json:"execution_id"`
	StepID          string              `json:"step_id"`
	StepName        string              `json:"step_name"`
	StepType        workflow.StepType   `json:"step_type"`
	Order           int                 `json:"order"`
	Status          workflow.StepStatus `json:"status"`
	InputData       map[string]any      `json:"input_data,omitempty"`
	OutputData      map[string]any      `json:"output_data,omitempty"`
	Logs            []string            `json:"logs,omitempty"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	RetryCount      int                 `json:"retry_count,omitempty"`
	StartedAt       *time.Time          `json:"started_at,omitempty"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	DurationSeconds float64             `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Folder groups workflows. Names are unique; deleting a folder detaches its
// workflows rather than deleting them.
type Folder struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TriggerType classifies how a trigger fires.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerEvent     TriggerType = "event"
	TriggerWebhook   TriggerType = "webhook"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerEvent, TriggerWebhook:
		return true
	}
	return false
}

// Trigger binds a firing rule to a workflow. Config's schema depends on
// Type: scheduled requires "cron", event requires "event_type", webhook
// requires "endpoint".
type Trigger struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"`
	Name            string         `json:"name"`
	Type            TriggerType    `json:"trigger_type"`
	Enabled         bool           `json:"enabled"`
	Config          map[string]any `json:"config,omitempty"`
	LastTriggeredAt *time.Time     `json:"last_triggered_at,omitempty"`
	NextTriggerAt   *time.Time     `json:"next_trigger_at,omitempty"`
	TriggerCount    int            `json:"trigger_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// DocumentCategory classifies what kind of knowledge a document carries.
// Orthogonal to Domain: a document about the weather API can still be an
// error solution.
type DocumentCategory string

const (
	CategoryWorkflowPatterns    DocumentCategory = "workflow_patterns"
	CategoryErrorSolutions      DocumentCategory = "error_solutions"
	CategoryCodeTemplates       DocumentCategory = "code_templates"
	CategoryIntegrationExamples DocumentCategory = "integration_examples"
	CategoryBestPractices       DocumentCategory = "best_practices"
)

// Valid reports whether c is a known category. The empty category is valid:
// uncategorized documents are reachable by every search but never by a
// category-filtered one.
func (c DocumentCategory) Valid() bool {
	switch c {
	case "", CategoryWorkflowPatterns, CategoryErrorSolutions,
		CategoryCodeTemplates, CategoryIntegrationExamples, CategoryBestPractices:
		return true
	}
	return false
}

// KnowledgeBase groups documents of one category. Deleting a base deletes
// its documents.
type KnowledgeBase struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Category    DocumentCategory `json:"category"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Document is one knowledge entry. The full body lives here; only the
// metadata blob (title, keywords, tags, summary) is embedded.
type Document struct {
	ID              string           `json:"id"`
	KnowledgeBaseID string           `json:"knowledge_base_id,omitempty"`
	Title           string           `json:"title"`
	Content         string           `json:"content"`
	Domain          string           `json:"domain"`
	Category        DocumentCategory `json:"category,omitempty"`
	Tags            []string         `json:"tags,omitempty"`
	Keywords        []string         `json:"keywords,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	ContentHash     string           `json:"content_hash,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Domain is a knowledge partition. The "common" domain always exists and
// cannot be deactivated.
type Domain struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Keywords    []string  `json:"keywords,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// QueryLogEntry records one knowledge search for diagnostics.
type QueryLogEntry struct {
	Seq       uint64    `json:"seq"`
	Query     string    `json:"query"`
	Domains   []string  `json:"domains,omitempty"`
	Hits      int       `json:"hits"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}
