package config

import "strconv"

// ConfigSource identifies where a configuration value came from.
type ConfigSource string

const (
	// SourceDefault indicates the value came from built-in defaults.
	SourceDefault ConfigSource = "default"
	// SourceFile indicates the value came from the magpie.toml config file.
	SourceFile ConfigSource = "file"
	// SourceEnv indicates the value came from an environment variable.
	SourceEnv ConfigSource = "env"
	// SourceCLI indicates the value came from a CLI flag.
	SourceCLI ConfigSource = "cli"
)

// ResolvedConfig holds the fully-resolved configuration with source tracking.
// The Config field contains the merged values; Sources tracks where each came from.
type ResolvedConfig struct {
	Config  *Config
	Sources map[string]ConfigSource // key is dotted path, e.g., "store.path"
	Path    string                  // path to the config file used (empty if none)
}

// CLIOverrides captures flag values that can override configuration.
// Nil values mean "not set" (do not override). A *string that is nil
// means "not overridden"; a *string pointing to "" means "override to empty string."
type CLIOverrides struct {
	StorePath    string
	WorkflowsDir string
	Interpreter  string
	LLMModel     string
	LLMBaseURL   string
}

// EnvFunc is a function that looks up environment variables.
// Default implementation is os.LookupEnv. Injected for testability.
type EnvFunc func(key string) (string, bool)

// Resolve merges configuration from all sources in priority order:
// CLI flags > environment variables > config file > defaults.
//
// Parameters:
//   - defaults: built-in default config (from NewDefaults())
//   - fileConfig: parsed config from magpie.toml (nil if no file found)
//   - envFn: function to look up environment variables
//   - overrides: CLI flag values (empty fields mean "not set")
//
// Returns the fully-resolved config with source annotations.
func Resolve(defaults *Config, fileConfig *Config, envFn EnvFunc, overrides *CLIOverrides) *ResolvedConfig {
	rc := &ResolvedConfig{
		Config:  &Config{},
		Sources: make(map[string]ConfigSource),
	}

	if defaults == nil {
		defaults = &Config{}
	}
	if envFn == nil {
		envFn = func(string) (string, bool) { return "", false }
	}
	if overrides == nil {
		overrides = &CLIOverrides{}
	}

	// Layer 1: Start with defaults as the base.
	resolveFromDefaults(rc, defaults)

	// Layer 2: Merge file config on top (non-zero values override).
	if fileConfig != nil {
		resolveFromFile(rc, fileConfig)
	}

	// Layer 3: Merge environment variables on top.
	resolveFromEnv(rc, envFn)

	// Layer 4: Merge CLI overrides on top.
	resolveFromCLI(rc, overrides)

	return rc
}

// --- Layer 1: Defaults ---

func resolveFromDefaults(rc *ResolvedConfig, defaults *Config) {
	c := rc.Config
	d := defaults

	setString(&c.Store.Path, d.Store.Path, "store.path", SourceDefault, rc.Sources)
	setString(&c.Store.VectorPath, d.Store.VectorPath, "store.vector_path", SourceDefault, rc.Sources)

	setString(&c.Scripts.Interpreter, d.Scripts.Interpreter, "scripts.interpreter", SourceDefault, rc.Sources)
	setInt(&c.Scripts.TimeoutSeconds, d.Scripts.TimeoutSeconds, "scripts.timeout_seconds", SourceDefault, rc.Sources)
	setString(&c.Scripts.WorkDir, d.Scripts.WorkDir, "scripts.work_dir", SourceDefault, rc.Sources)

	setInt(&c.HTTP.TimeoutSeconds, d.HTTP.TimeoutSeconds, "http.timeout_seconds", SourceDefault, rc.Sources)
	setInt(&c.HTTP.MaxRetries, d.HTTP.MaxRetries, "http.max_retries", SourceDefault, rc.Sources)
	setInt(&c.HTTP.CacheTTLSeconds, d.HTTP.CacheTTLSeconds, "http.cache_ttl_seconds", SourceDefault, rc.Sources)

	setString(&c.LLM.Provider, d.LLM.Provider, "llm.provider", SourceDefault, rc.Sources)
	setString(&c.LLM.Model, d.LLM.Model, "llm.model", SourceDefault, rc.Sources)
	setString(&c.LLM.BaseURL, d.LLM.BaseURL, "llm.base_url", SourceDefault, rc.Sources)
	setString(&c.LLM.APIKeyEnv, d.LLM.APIKeyEnv, "llm.api_key_env", SourceDefault, rc.Sources)
	setString(&c.LLM.EmbedModel, d.LLM.EmbedModel, "llm.embed_model", SourceDefault, rc.Sources)
	setInt(&c.LLM.EmbedDims, d.LLM.EmbedDims, "llm.embed_dims", SourceDefault, rc.Sources)

	setFloat(&c.Knowledge.SemanticWeight, d.Knowledge.SemanticWeight, "knowledge.semantic_weight", SourceDefault, rc.Sources)
	setInt(&c.Knowledge.SummaryMaxTokens, d.Knowledge.SummaryMaxTokens, "knowledge.summary_max_tokens", SourceDefault, rc.Sources)
	setInt(&c.Knowledge.ContextMaxTokens, d.Knowledge.ContextMaxTokens, "knowledge.context_max_tokens", SourceDefault, rc.Sources)

	setString(&c.Notify.SMTPHost, d.Notify.SMTPHost, "notify.smtp_host", SourceDefault, rc.Sources)
	setInt(&c.Notify.SMTPPort, d.Notify.SMTPPort, "notify.smtp_port", SourceDefault, rc.Sources)
	setString(&c.Notify.SMTPUserEnv, d.Notify.SMTPUserEnv, "notify.smtp_user_env", SourceDefault, rc.Sources)
	setString(&c.Notify.SMTPPasswordEnv, d.Notify.SMTPPasswordEnv, "notify.smtp_password_env", SourceDefault, rc.Sources)
	setString(&c.Notify.FromAddress, d.Notify.FromAddress, "notify.from_address", SourceDefault, rc.Sources)

	setInt(&c.Scheduler.CheckIntervalSeconds, d.Scheduler.CheckIntervalSeconds, "scheduler.check_interval_seconds", SourceDefault, rc.Sources)

	setString(&c.Workflows.Dir, d.Workflows.Dir, "workflows.dir", SourceDefault, rc.Sources)
}

// --- Layer 2: File ---

func resolveFromFile(rc *ResolvedConfig, file *Config) {
	c := rc.Config
	f := file

	mergeString(&c.Store.Path, f.Store.Path, "store.path", SourceFile, rc.Sources)
	mergeString(&c.Store.VectorPath, f.Store.VectorPath, "store.vector_path", SourceFile, rc.Sources)

	mergeString(&c.Scripts.Interpreter, f.Scripts.Interpreter, "scripts.interpreter", SourceFile, rc.Sources)
	mergeInt(&c.Scripts.TimeoutSeconds, f.Scripts.TimeoutSeconds, "scripts.timeout_seconds", SourceFile, rc.Sources)
	mergeString(&c.Scripts.WorkDir, f.Scripts.WorkDir, "scripts.work_dir", SourceFile, rc.Sources)

	mergeInt(&c.HTTP.TimeoutSeconds, f.HTTP.TimeoutSeconds, "http.timeout_seconds", SourceFile, rc.Sources)
	mergeInt(&c.HTTP.MaxRetries, f.HTTP.MaxRetries, "http.max_retries", SourceFile, rc.Sources)
	mergeInt(&c.HTTP.CacheTTLSeconds, f.HTTP.CacheTTLSeconds, "http.cache_ttl_seconds", SourceFile, rc.Sources)

	mergeString(&c.LLM.Provider, f.LLM.Provider, "llm.provider", SourceFile, rc.Sources)
	mergeString(&c.LLM.Model, f.LLM.Model, "llm.model", SourceFile, rc.Sources)
	mergeString(&c.LLM.BaseURL, f.LLM.BaseURL, "llm.base_url", SourceFile, rc.Sources)
	mergeString(&c.LLM.APIKeyEnv, f.LLM.APIKeyEnv, "llm.api_key_env", SourceFile, rc.Sources)
	mergeString(&c.LLM.EmbedModel, f.LLM.EmbedModel, "llm.embed_model", SourceFile, rc.Sources)
	mergeInt(&c.LLM.EmbedDims, f.LLM.EmbedDims, "llm.embed_dims", SourceFile, rc.Sources)

	mergeFloat(&c.Knowledge.SemanticWeight, f.Knowledge.SemanticWeight, "knowledge.semantic_weight", SourceFile, rc.Sources)
	mergeInt(&c.Knowledge.SummaryMaxTokens, f.Knowledge.SummaryMaxTokens, "knowledge.summary_max_tokens", SourceFile, rc.Sources)
	mergeInt(&c.Knowledge.ContextMaxTokens, f.Knowledge.ContextMaxTokens, "knowledge.context_max_tokens", SourceFile, rc.Sources)

	mergeString(&c.Notify.SMTPHost, f.Notify.SMTPHost, "notify.smtp_host", SourceFile, rc.Sources)
	mergeInt(&c.Notify.SMTPPort, f.Notify.SMTPPort, "notify.smtp_port", SourceFile, rc.Sources)
	mergeString(&c.Notify.SMTPUserEnv, f.Notify.SMTPUserEnv, "notify.smtp_user_env", SourceFile, rc.Sources)
	mergeString(&c.Notify.SMTPPasswordEnv, f.Notify.SMTPPasswordEnv, "notify.smtp_password_env", SourceFile, rc.Sources)
	mergeString(&c.Notify.FromAddress, f.Notify.FromAddress, "notify.from_address", SourceFile, rc.Sources)

	mergeInt(&c.Scheduler.CheckIntervalSeconds, f.Scheduler.CheckIntervalSeconds, "scheduler.check_interval_seconds", SourceFile, rc.Sources)

	mergeString(&c.Workflows.Dir, f.Workflows.Dir, "workflows.dir", SourceFile, rc.Sources)
}

// --- Layer 3: Environment ---

// Environment variable mapping:
//
//	MAGPIE_STORE_PATH       -> store.path
//	MAGPIE_VECTOR_PATH      -> store.vector_path
//	MAGPIE_INTERPRETER      -> scripts.interpreter
//	MAGPIE_SCRIPT_TIMEOUT   -> scripts.timeout_seconds
//	MAGPIE_LLM_PROVIDER     -> llm.provider
//	MAGPIE_LLM_MODEL        -> llm.model
//	MAGPIE_LLM_BASE_URL     -> llm.base_url
//	MAGPIE_SMTP_HOST        -> notify.smtp_host
//	MAGPIE_WORKFLOWS_DIR    -> workflows.dir
func resolveFromEnv(rc *ResolvedConfig, envFn EnvFunc) {
	c := rc.Config

	if val, ok := envFn("MAGPIE_STORE_PATH"); ok {
		c.Store.Path = val
		rc.Sources["store.path"] = SourceEnv
	}
	if val, ok := envFn("MAGPIE_VECTOR_PATH"); ok {
		c.Store.VectorPath = val
		rc.Sources["store.vector_path"] = SourceEnv
	}
	if val, ok := envFn("MAGPIE_INTERPRETER"); ok {
		c.Scripts.Interpreter = val
		rc.Sources["scripts.interpreter"] = SourceEnv
	}
	if val, ok := envFn("MAGPIE_SCRIPT_TIMEOUT"); ok {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			c.Scripts.TimeoutSeconds = n
			rc.Sources["scripts.timeout_seconds"] = SourceEnv
		}
	}
	if val, ok := envFn("MAGPIE_LLM_PROVIDER"); ok {
		c.LLM.Provider = val
		rc.Sources["llm.provider"] = SourceEnv
	}
	if val, ok := envFn("MAGPIE_LLM_MODEL"); ok {
		c.LLM.Model = val
		rc.Sources["llm.model"] = SourceEnv
	}
	if val, ok := envFn("MAGPIE_LLM_BASE_URL"); ok {
		c.LLM.BaseURL = val
		rc.Sources["llm.base_url"] = SourceEnv
	}
	if val, ok := envFn("MAGPIE_SMTP_HOST"); ok {
		c.Notify.SMTPHost = val
		rc.Sources["notify.smtp_host"] = SourceEnv
	}
	if val, ok := envFn("MAGPIE_WORKFLOWS_DIR"); ok {
		c.Workflows.Dir = val
		rc.Sources["workflows.dir"] = SourceEnv
	}
}

// --- Layer 4: CLI overrides ---

func resolveFromCLI(rc *ResolvedConfig, overrides *CLIOverrides) {
	c := rc.Config

	if overrides.StorePath != "" {
		c.Store.Path = overrides.StorePath
		rc.Sources["store.path"] = SourceCLI
	}
	if overrides.WorkflowsDir != "" {
		c.Workflows.Dir = overrides.WorkflowsDir
		rc.Sources["workflows.dir"] = SourceCLI
	}
	if overrides.Interpreter != "" {
		c.Scripts.Interpreter = overrides.Interpreter
		rc.Sources["scripts.interpreter"] = SourceCLI
	}
	if overrides.LLMModel != "" {
		c.LLM.Model = overrides.LLMModel
		rc.Sources["llm.model"] = SourceCLI
	}
	if overrides.LLMBaseURL != "" {
		c.LLM.BaseURL = overrides.LLMBaseURL
		rc.Sources["llm.base_url"] = SourceCLI
	}
}

// --- Helpers ---

// setString unconditionally sets the target to the given value and records the source.
func setString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	*target = value
	sources[path] = source
}

func setInt(target *int, value int, path string, source ConfigSource, sources map[string]ConfigSource) {
	*target = value
	sources[path] = source
}

func setFloat(target *float64, value float64, path string, source ConfigSource, sources map[string]ConfigSource) {
	*target = value
	sources[path] = source
}

// mergeString overwrites the target only if value is non-empty (non-zero string).
// For file-layer merging, an empty string in the file means "not set in file",
// so it does not override the default.
func mergeString(target *string, value string, path string, source ConfigSource, sources map[string]ConfigSource) {
	if value != "" {
		*target = value
		sources[path] = source
	}
}

func mergeInt(target *int, value int, path string, source ConfigSource, sources map[string]ConfigSource) {
	if value != 0 {
		*target = value
		sources[path] = source
	}
}

func mergeFloat(target *float64, value float64, path string, source ConfigSource, sources map[string]ConfigSource) {
	if value != 0 {
		*target = value
		sources[path] = source
	}
}
