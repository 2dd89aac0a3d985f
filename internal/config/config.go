package config

// Config is the top-level configuration structure mapping to magpie.toml.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Scripts   ScriptsConfig   `toml:"scripts"`
	HTTP      HTTPConfig      `toml:"http"`
	LLM       LLMConfig       `toml:"llm"`
	Knowledge KnowledgeConfig `toml:"knowledge"`
	Notify    NotifyConfig    `toml:"notify"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Workflows WorkflowsConfig `toml:"workflows"`
}

// StoreConfig maps to the [store] section in magpie.toml.
type StoreConfig struct {
	Path       string `toml:"path"`
	VectorPath string `toml:"vector_path"`
}

// ScriptsConfig maps to the [scripts] section in magpie.toml. It controls
// the sandbox that runs python_script steps.
type ScriptsConfig struct {
	Interpreter    string `toml:"interpreter"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	WorkDir        string `toml:"work_dir"`
}

// HTTPConfig maps to the [http] section in magpie.toml. It controls the
// API call client used by api_call steps.
type HTTPConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	MaxRetries      int `toml:"max_retries"`
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`
}

// LLMConfig maps to the [llm] section in magpie.toml.
type LLMConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	BaseURL    string `toml:"base_url"`
	APIKeyEnv  string `toml:"api_key_env"`
	EmbedModel string `toml:"embed_model"`
	EmbedDims  int    `toml:"embed_dims"`
}

// KnowledgeConfig maps to the [knowledge] section in magpie.toml.
type KnowledgeConfig struct {
	SemanticWeight   float64 `toml:"semantic_weight"`
	SummaryMaxTokens int     `toml:"summary_max_tokens"`
	ContextMaxTokens int     `toml:"context_max_tokens"`
}

// NotifyConfig maps to the [notify] section in magpie.toml. Credentials are
// read from the environment variables named here, never stored in the file.
type NotifyConfig struct {
	SMTPHost        string `toml:"smtp_host"`
	SMTPPort        int    `toml:"smtp_port"`
	SMTPUserEnv     string `toml:"smtp_user_env"`
	SMTPPasswordEnv string `toml:"smtp_password_env"`
	FromAddress     string `toml:"from_address"`
}

// SchedulerConfig maps to the [scheduler] section in magpie.toml.
type SchedulerConfig struct {
	CheckIntervalSeconds int `toml:"check_interval_seconds"`
}

// WorkflowsConfig maps to the [workflows] section in magpie.toml.
type WorkflowsConfig struct {
	Dir string `toml:"dir"`
}
