package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// ValidationSeverity indicates whether a validation issue is an error or warning.
type ValidationSeverity string

const (
	// SeverityError indicates a fatal validation issue; the configuration is unusable.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates an informational validation issue; the configuration works
	// but may have problems.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity
	Field    string // dotted path, e.g., "store.path"
	Message  string
}

// ValidationResult holds all validation findings.
type ValidationResult struct {
	Issues []ValidationIssue
}

// HasErrors returns true if any issue has error severity.
func (vr *ValidationResult) HasErrors() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

// HasWarnings returns true if any issue has warning severity.
func (vr *ValidationResult) HasWarnings() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// Errors returns only error-severity issues.
func (vr *ValidationResult) Errors() []ValidationIssue {
	var errs []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			errs = append(errs, issue)
		}
	}
	return errs
}

// Warnings returns only warning-severity issues.
func (vr *ValidationResult) Warnings() []ValidationIssue {
	var warns []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityWarning {
			warns = append(warns, issue)
		}
	}
	return warns
}

// recognizedProviders is the set of valid values for llm.provider.
var recognizedProviders = map[string]bool{
	"":       true,
	"openai": true,
	"ollama": true,
	"none":   true,
}

// Validate checks the configuration for correctness and completeness.
// It performs structural validation, semantic validation, and unknown key detection.
//
// Parameters:
//   - cfg: the configuration to validate
//   - meta: TOML metadata from BurntSushi/toml (may be nil if no file was loaded)
//
// Returns validation results. Check HasErrors() to determine if the config is usable.
func Validate(cfg *Config, meta *toml.MetaData) *ValidationResult {
	vr := &ValidationResult{}

	if cfg == nil {
		addError(vr, "", "configuration is nil")
		return vr
	}

	validateStore(vr, &cfg.Store)
	validateScripts(vr, &cfg.Scripts)
	validateHTTP(vr, &cfg.HTTP)
	validateLLM(vr, &cfg.LLM)
	validateKnowledge(vr, &cfg.Knowledge)
	validateNotify(vr, &cfg.Notify)
	validateScheduler(vr, &cfg.Scheduler)
	validateWorkflows(vr, &cfg.Workflows)
	validateUnknownKeys(vr, meta)

	return vr
}

// validateStore checks the [store] section.
func validateStore(vr *ValidationResult, s *StoreConfig) {
	// Error: store.path must not be empty.
	if s.Path == "" {
		addError(vr, "store.path", "must not be empty")
	}

	// Error: vector store and main store must not share a file. bbolt takes
	// an exclusive lock per file, so a shared path would deadlock on open.
	if s.VectorPath != "" && s.VectorPath == s.Path {
		addError(vr, "store.vector_path", "must differ from store.path")
	}
}

// validateScripts checks the [scripts] section.
func validateScripts(vr *ValidationResult, s *ScriptsConfig) {
	// Error: interpreter must not be empty.
	if s.Interpreter == "" {
		addError(vr, "scripts.interpreter", "must not be empty")
	}

	// Error: timeout must be positive.
	if s.TimeoutSeconds <= 0 {
		addError(vr, "scripts.timeout_seconds",
			fmt.Sprintf("must be positive, got %d", s.TimeoutSeconds))
	}

	// Warning: work_dir does not exist.
	if s.WorkDir != "" {
		if _, err := os.Stat(s.WorkDir); err != nil {
			addWarning(vr, "scripts.work_dir",
				fmt.Sprintf("directory %q does not exist", s.WorkDir))
		}
	}
}

// validateHTTP checks the [http] section.
func validateHTTP(vr *ValidationResult, h *HTTPConfig) {
	if h.TimeoutSeconds <= 0 {
		addError(vr, "http.timeout_seconds",
			fmt.Sprintf("must be positive, got %d", h.TimeoutSeconds))
	}
	if h.MaxRetries < 0 {
		addError(vr, "http.max_retries",
			fmt.Sprintf("must not be negative, got %d", h.MaxRetries))
	}
	if h.CacheTTLSeconds < 0 {
		addError(vr, "http.cache_ttl_seconds",
			fmt.Sprintf("must not be negative, got %d", h.CacheTTLSeconds))
	}
}

// validateLLM checks the [llm] section.
func validateLLM(vr *ValidationResult, l *LLMConfig) {
	// Error: provider must be recognized.
	if !recognizedProviders[l.Provider] {
		addError(vr, "llm.provider",
			fmt.Sprintf("unrecognized provider %q; must be one of: openai, ollama, none, or empty", l.Provider))
	}

	// Error: base_url must parse when set.
	if l.BaseURL != "" {
		u, err := url.Parse(l.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			addError(vr, "llm.base_url",
				fmt.Sprintf("invalid URL %q", l.BaseURL))
		}
	}

	// Error: embed_dims must be positive.
	if l.EmbedDims <= 0 {
		addError(vr, "llm.embed_dims",
			fmt.Sprintf("must be positive, got %d", l.EmbedDims))
	}

	// Warning: the named API key variable is not set in the environment.
	if l.Provider == "openai" && l.APIKeyEnv != "" {
		if _, ok := os.LookupEnv(l.APIKeyEnv); !ok {
			addWarning(vr, "llm.api_key_env",
				fmt.Sprintf("environment variable %q is not set", l.APIKeyEnv))
		}
	}
}

// validateKnowledge checks the [knowledge] section.
func validateKnowledge(vr *ValidationResult, k *KnowledgeConfig) {
	if k.SemanticWeight < 0 || k.SemanticWeight > 1 {
		addError(vr, "knowledge.semantic_weight",
			fmt.Sprintf("must be in [0, 1], got %v", k.SemanticWeight))
	}
	if k.SummaryMaxTokens <= 0 {
		addError(vr, "knowledge.summary_max_tokens",
			fmt.Sprintf("must be positive, got %d", k.SummaryMaxTokens))
	}
	if k.ContextMaxTokens <= 0 {
		addError(vr, "knowledge.context_max_tokens",
			fmt.Sprintf("must be positive, got %d", k.ContextMaxTokens))
	}
}

// validateNotify checks the [notify] section.
func validateNotify(vr *ValidationResult, n *NotifyConfig) {
	if n.SMTPPort <= 0 || n.SMTPPort > 65535 {
		addError(vr, "notify.smtp_port",
			fmt.Sprintf("must be in [1, 65535], got %d", n.SMTPPort))
	}

	// Warning: a host without a from address means email steps will fail.
	if n.SMTPHost != "" && n.FromAddress == "" {
		addWarning(vr, "notify.from_address",
			"smtp_host is set but from_address is empty")
	}

	// Warning: credentials variables are named but not set.
	if n.SMTPHost != "" && n.SMTPUserEnv != "" {
		if _, ok := os.LookupEnv(n.SMTPUserEnv); !ok {
			addWarning(vr, "notify.smtp_user_env",
				fmt.Sprintf("environment variable %q is not set", n.SMTPUserEnv))
		}
	}
}

// validateScheduler checks the [scheduler] section.
func validateScheduler(vr *ValidationResult, s *SchedulerConfig) {
	if s.CheckIntervalSeconds <= 0 {
		addError(vr, "scheduler.check_interval_seconds",
			fmt.Sprintf("must be positive, got %d", s.CheckIntervalSeconds))
	}
}

// validateWorkflows checks the [workflows] section.
func validateWorkflows(vr *ValidationResult, w *WorkflowsConfig) {
	if w.Dir == "" {
		addError(vr, "workflows.dir", "must not be empty")
		return
	}

	// Warning: workflows dir does not exist yet.
	if _, err := os.Stat(w.Dir); err != nil {
		addWarning(vr, "workflows.dir",
			fmt.Sprintf("directory %q does not exist", w.Dir))
	}
}

// validateUnknownKeys checks for TOML keys that did not map to any config struct field.
func validateUnknownKeys(vr *ValidationResult, meta *toml.MetaData) {
	if meta == nil {
		return
	}

	for _, key := range meta.Undecoded() {
		path := strings.Join(key, ".")
		addWarning(vr, path, "unknown configuration key")
	}
}

// addError appends an error-severity issue to the validation result.
func addError(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityError,
		Field:    field,
		Message:  message,
	})
}

// addWarning appends a warning-severity issue to the validation result.
func addWarning(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{
		Severity: SeverityWarning,
		Field:    field,
		Message:  message,
	})
}
