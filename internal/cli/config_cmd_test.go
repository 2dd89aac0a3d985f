package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/magpieflow/magpie/internal/config"
)

// captureCmd returns a throwaway command whose stdout is buffered.
func captureCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	return cmd, &buf
}

func TestPrintResolvedConfigDefaults(t *testing.T) {
	resolved := config.Resolve(config.NewDefaults(), nil, nil, nil)
	cmd, buf := captureCmd()

	printResolvedConfig(cmd, resolved)
	out := buf.String()

	assert.Contains(t, out, "Config file: none found")
	assert.Contains(t, out, "[store]")
	assert.Contains(t, out, ".magpie/magpie.db")
	assert.Contains(t, out, "[llm]")
	assert.Contains(t, out, "gpt-4o-mini")
	assert.Contains(t, out, "(default)")
	// Empty strings are visible, not silently blank.
	assert.Contains(t, out, "<unset>")
}

func TestPrintResolvedConfigAnnotatesSources(t *testing.T) {
	fileCfg := &config.Config{}
	fileCfg.Store.Path = "/var/lib/magpie.db"
	resolved := config.Resolve(config.NewDefaults(), fileCfg, nil, nil)
	resolved.Path = "/etc/magpie.toml"

	cmd, buf := captureCmd()
	printResolvedConfig(cmd, resolved)
	out := buf.String()

	assert.Contains(t, out, "Config file: /etc/magpie.toml")
	assert.Contains(t, out, "/var/lib/magpie.db")
	assert.Contains(t, out, "(file)")
}

func TestPrintValidationResultClean(t *testing.T) {
	result := config.Validate(config.NewDefaults(), nil)
	cmd, buf := captureCmd()

	printValidationResult(cmd, result)
	assert.Contains(t, buf.String(), "No issues found.")
}

func TestPrintValidationResultReportsIssues(t *testing.T) {
	cfg := config.NewDefaults()
	cfg.Store.Path = ""
	cfg.HTTP.TimeoutSeconds = -5

	result := config.Validate(cfg, nil)
	cmd, buf := captureCmd()
	printValidationResult(cmd, result)
	out := buf.String()

	assert.Contains(t, out, "Errors:")
	assert.Contains(t, out, "error(s)")
	assert.NotContains(t, out, "No issues found.")
}
