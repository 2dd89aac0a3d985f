package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noEnv is an EnvFunc that finds nothing.
func noEnv(string) (string, bool) { return "", false }

// mapEnv builds an EnvFunc backed by a map.
func mapEnv(m map[string]string) EnvFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestResolve_DefaultsOnly(t *testing.T) {
	t.Parallel()
	rc := Resolve(NewDefaults(), nil, noEnv, nil)
	require.NotNil(t, rc)
	require.NotNil(t, rc.Config)

	assert.Equal(t, ".magpie/magpie.db", rc.Config.Store.Path)
	assert.Equal(t, "python3", rc.Config.Scripts.Interpreter)
	assert.Equal(t, 300, rc.Config.Scripts.TimeoutSeconds)
	assert.Equal(t, "gpt-4o-mini", rc.Config.LLM.Model)
	assert.Equal(t, "workflows", rc.Config.Workflows.Dir)

	// Every tracked field should report the default source.
	for path, src := range rc.Sources {
		assert.Equal(t, SourceDefault, src, "field %s", path)
	}
}

func TestResolve_FileOverridesDefaults(t *testing.T) {
	t.Parallel()
	file := &Config{}
	file.Store.Path = "other.db"
	file.Scripts.TimeoutSeconds = 42
	file.LLM.Model = "gpt-4o"
	file.Knowledge.SemanticWeight = 0.25

	rc := Resolve(NewDefaults(), file, noEnv, nil)

	assert.Equal(t, "other.db", rc.Config.Store.Path)
	assert.Equal(t, SourceFile, rc.Sources["store.path"])

	assert.Equal(t, 42, rc.Config.Scripts.TimeoutSeconds)
	assert.Equal(t, SourceFile, rc.Sources["scripts.timeout_seconds"])

	assert.Equal(t, "gpt-4o", rc.Config.LLM.Model)
	assert.Equal(t, SourceFile, rc.Sources["llm.model"])

	assert.InDelta(t, 0.25, rc.Config.Knowledge.SemanticWeight, 1e-9)
	assert.Equal(t, SourceFile, rc.Sources["knowledge.semantic_weight"])

	// Untouched fields keep their defaults.
	assert.Equal(t, ".magpie/vectors.db", rc.Config.Store.VectorPath)
	assert.Equal(t, SourceDefault, rc.Sources["store.vector_path"])
}

func TestResolve_EmptyFileValuesDoNotOverride(t *testing.T) {
	t.Parallel()
	// A file section with zero values means "not set": defaults must survive.
	rc := Resolve(NewDefaults(), &Config{}, noEnv, nil)

	assert.Equal(t, ".magpie/magpie.db", rc.Config.Store.Path)
	assert.Equal(t, SourceDefault, rc.Sources["store.path"])
	assert.Equal(t, 300, rc.Config.Scripts.TimeoutSeconds)
	assert.Equal(t, SourceDefault, rc.Sources["scripts.timeout_seconds"])
}

func TestResolve_EnvOverridesFile(t *testing.T) {
	t.Parallel()
	file := &Config{}
	file.Store.Path = "from-file.db"
	file.LLM.Model = "file-model"

	env := mapEnv(map[string]string{
		"MAGPIE_STORE_PATH": "from-env.db",
		"MAGPIE_LLM_MODEL":  "env-model",
	})

	rc := Resolve(NewDefaults(), file, env, nil)

	assert.Equal(t, "from-env.db", rc.Config.Store.Path)
	assert.Equal(t, SourceEnv, rc.Sources["store.path"])
	assert.Equal(t, "env-model", rc.Config.LLM.Model)
	assert.Equal(t, SourceEnv, rc.Sources["llm.model"])
}

func TestResolve_EnvMapping(t *testing.T) {
	t.Parallel()
	env := mapEnv(map[string]string{
		"MAGPIE_VECTOR_PATH":    "vec.db",
		"MAGPIE_INTERPRETER":    "python3.13",
		"MAGPIE_SCRIPT_TIMEOUT": "77",
		"MAGPIE_LLM_PROVIDER":   "ollama",
		"MAGPIE_LLM_BASE_URL":   "http://localhost:11434/v1",
		"MAGPIE_SMTP_HOST":      "mail.example.com",
		"MAGPIE_WORKFLOWS_DIR":  "defs",
	})

	rc := Resolve(NewDefaults(), nil, env, nil)

	assert.Equal(t, "vec.db", rc.Config.Store.VectorPath)
	assert.Equal(t, "python3.13", rc.Config.Scripts.Interpreter)
	assert.Equal(t, 77, rc.Config.Scripts.TimeoutSeconds)
	assert.Equal(t, "ollama", rc.Config.LLM.Provider)
	assert.Equal(t, "http://localhost:11434/v1", rc.Config.LLM.BaseURL)
	assert.Equal(t, "mail.example.com", rc.Config.Notify.SMTPHost)
	assert.Equal(t, "defs", rc.Config.Workflows.Dir)

	for _, path := range []string{
		"store.vector_path", "scripts.interpreter", "scripts.timeout_seconds",
		"llm.provider", "llm.base_url", "notify.smtp_host", "workflows.dir",
	} {
		assert.Equal(t, SourceEnv, rc.Sources[path], "field %s", path)
	}
}

func TestResolve_EnvBadTimeoutIgnored(t *testing.T) {
	t.Parallel()
	env := mapEnv(map[string]string{"MAGPIE_SCRIPT_TIMEOUT": "not-a-number"})
	rc := Resolve(NewDefaults(), nil, env, nil)

	assert.Equal(t, 300, rc.Config.Scripts.TimeoutSeconds, "unparseable env timeout keeps default")
	assert.Equal(t, SourceDefault, rc.Sources["scripts.timeout_seconds"])
}

func TestResolve_CLIOverridesEverything(t *testing.T) {
	t.Parallel()
	file := &Config{}
	file.Store.Path = "from-file.db"

	env := mapEnv(map[string]string{
		"MAGPIE_STORE_PATH": "from-env.db",
		"MAGPIE_LLM_MODEL":  "env-model",
	})

	overrides := &CLIOverrides{
		StorePath:    "from-cli.db",
		WorkflowsDir: "cli-flows",
		Interpreter:  "python3.11",
		LLMModel:     "cli-model",
		LLMBaseURL:   "https://proxy.example.com/v1",
	}

	rc := Resolve(NewDefaults(), file, env, overrides)

	assert.Equal(t, "from-cli.db", rc.Config.Store.Path)
	assert.Equal(t, SourceCLI, rc.Sources["store.path"])
	assert.Equal(t, "cli-flows", rc.Config.Workflows.Dir)
	assert.Equal(t, SourceCLI, rc.Sources["workflows.dir"])
	assert.Equal(t, "python3.11", rc.Config.Scripts.Interpreter)
	assert.Equal(t, SourceCLI, rc.Sources["scripts.interpreter"])
	assert.Equal(t, "cli-model", rc.Config.LLM.Model)
	assert.Equal(t, SourceCLI, rc.Sources["llm.model"])
	assert.Equal(t, "https://proxy.example.com/v1", rc.Config.LLM.BaseURL)
	assert.Equal(t, SourceCLI, rc.Sources["llm.base_url"])
}

func TestResolve_PrecedenceChain(t *testing.T) {
	t.Parallel()
	// One field per layer: default < file < env < cli.
	file := &Config{}
	file.Store.Path = "file.db"
	file.Workflows.Dir = "file-flows"
	file.LLM.Model = "file-model"

	env := mapEnv(map[string]string{
		"MAGPIE_WORKFLOWS_DIR": "env-flows",
		"MAGPIE_LLM_MODEL":     "env-model",
	})

	overrides := &CLIOverrides{LLMModel: "cli-model"}

	rc := Resolve(NewDefaults(), file, env, overrides)

	// store.path: file wins (no env/cli).
	assert.Equal(t, "file.db", rc.Config.Store.Path)
	assert.Equal(t, SourceFile, rc.Sources["store.path"])

	// workflows.dir: env beats file.
	assert.Equal(t, "env-flows", rc.Config.Workflows.Dir)
	assert.Equal(t, SourceEnv, rc.Sources["workflows.dir"])

	// llm.model: cli beats env beats file.
	assert.Equal(t, "cli-model", rc.Config.LLM.Model)
	assert.Equal(t, SourceCLI, rc.Sources["llm.model"])

	// scripts.interpreter: nothing set it, default survives.
	assert.Equal(t, "python3", rc.Config.Scripts.Interpreter)
	assert.Equal(t, SourceDefault, rc.Sources["scripts.interpreter"])
}

func TestResolve_NilArguments(t *testing.T) {
	t.Parallel()
	// All nil inputs must not panic.
	rc := Resolve(nil, nil, nil, nil)
	require.NotNil(t, rc)
	require.NotNil(t, rc.Config)
	require.NotNil(t, rc.Sources)
}

func TestResolve_DefaultsNotMutated(t *testing.T) {
	t.Parallel()
	defaults := NewDefaults()
	file := &Config{}
	file.Store.Path = "mutation-check.db"

	Resolve(defaults, file, mapEnv(map[string]string{"MAGPIE_LLM_MODEL": "x"}),
		&CLIOverrides{Interpreter: "y"})

	assert.Equal(t, ".magpie/magpie.db", defaults.Store.Path, "defaults must not be mutated")
	assert.Equal(t, "gpt-4o-mini", defaults.LLM.Model, "defaults must not be mutated")
	assert.Equal(t, "python3", defaults.Scripts.Interpreter, "defaults must not be mutated")
}
