package config

// NewDefaults returns a Config populated with all default values. Every
// resolve starts from these, so a missing magpie.toml still yields a fully
// usable configuration.
func NewDefaults() *Config {
	return &Config{
		Store: StoreConfig{
			Path:       ".magpie/magpie.db",
			VectorPath: ".magpie/vectors.db",
		},
		Scripts: ScriptsConfig{
			Interpreter:    "python3",
			TimeoutSeconds: 300,
		},
		HTTP: HTTPConfig{
			TimeoutSeconds:  30,
			MaxRetries:      3,
			CacheTTLSeconds: 300,
		},
		LLM: LLMConfig{
			Provider:   "openai",
			Model:      "gpt-4o-mini",
			BaseURL:    "https://api.openai.com/v1",
			APIKeyEnv:  "MAGPIE_LLM_API_KEY",
			EmbedModel: "text-embedding-3-small",
			EmbedDims:  256,
		},
		Knowledge: KnowledgeConfig{
			SemanticWeight:   0.7,
			SummaryMaxTokens: 120,
			ContextMaxTokens: 4000,
		},
		Notify: NotifyConfig{
			SMTPPort:        587,
			SMTPUserEnv:     "MAGPIE_SMTP_USER",
			SMTPPasswordEnv: "MAGPIE_SMTP_PASSWORD",
		},
		Scheduler: SchedulerConfig{
			CheckIntervalSeconds: 60,
		},
		Workflows: WorkflowsConfig{
			Dir: "workflows",
		},
	}
}
