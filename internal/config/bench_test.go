package config

import (
	"os"
	"path/filepath"
	"testing"
)

// benchTOML is a complete magpie.toml fixture that passes Validate with no
// errors. Paths intentionally point at non-existent files so the benchmark
// does not depend on the host filesystem layout; those produce only warnings.
const benchTOML = `
[store]
path        = "bench/magpie.db"
vector_path = "bench/vectors.db"

[scripts]
interpreter     = "python3"
timeout_seconds = 300

[http]
timeout_seconds   = 30
max_retries       = 3
cache_ttl_seconds = 300

[llm]
provider    = "none"
model       = "gpt-4o-mini"
base_url    = "https://api.openai.com/v1"
api_key_env = "MAGPIE_LLM_API_KEY"
embed_model = "text-embedding-3-small"
embed_dims  = 256

[knowledge]
semantic_weight    = 0.7
summary_max_tokens = 120
context_max_tokens = 4000

[scheduler]
check_interval_seconds = 60

[workflows]
dir = "workflows"
`

// writeBenchConfig writes benchTOML to a temp file and returns the path.
// The file is created once per benchmark; b.TempDir() cleans up automatically.
func writeBenchConfig(b *testing.B) string {
	b.Helper()
	path := filepath.Join(b.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(benchTOML), 0o644); err != nil {
		b.Fatalf("writing bench config: %v", err)
	}
	return path
}

// BenchmarkLoadFromFile measures the cost of parsing a TOML config file from
// disk, including file I/O and TOML decoding.
func BenchmarkLoadFromFile(b *testing.B) {
	path := writeBenchConfig(b)
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		cfg, _, err := LoadFromFile(path)
		if err != nil {
			b.Fatalf("LoadFromFile: %v", err)
		}
		_ = cfg
	}
}

// BenchmarkResolve measures the full four-layer merge.
func BenchmarkResolve(b *testing.B) {
	path := writeBenchConfig(b)
	fileCfg, _, err := LoadFromFile(path)
	if err != nil {
		b.Fatalf("LoadFromFile: %v", err)
	}
	defaults := NewDefaults()
	env := func(string) (string, bool) { return "", false }
	overrides := &CLIOverrides{LLMModel: "bench-model"}
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		rc := Resolve(defaults, fileCfg, env, overrides)
		_ = rc
	}
}

// BenchmarkValidate measures the cost of validating a fully-populated Config
// against TOML metadata. Setup is excluded from the measured region.
func BenchmarkValidate(b *testing.B) {
	path := writeBenchConfig(b)
	cfg, md, err := LoadFromFile(path)
	if err != nil {
		b.Fatalf("LoadFromFile: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		result := Validate(cfg, &md)
		_ = result
	}
}

// BenchmarkValidate_NilMeta measures Validate when no TOML metadata is
// available (the unknown-key detection path is skipped).
func BenchmarkValidate_NilMeta(b *testing.B) {
	cfg := NewDefaults()
	b.ReportAllocs()
	b.ResetTimer()

	for b.Loop() {
		result := Validate(cfg, nil)
		_ = result
	}
}

// BenchmarkNewDefaults measures the cost of constructing a default Config.
func BenchmarkNewDefaults(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		cfg := NewDefaults()
		_ = cfg
	}
}
