package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into a fresh directory and restores the original
// working directory on cleanup.
func chdirTemp(t *testing.T) string {
	t.Helper()
	origDir, err := os.Getwd()
	require.NoError(t, err)
	tmpDir := t.TempDir()
	require.NoError(t, os.Chdir(tmpDir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return tmpDir
}

func TestRunInitScaffoldsStarterTemplate(t *testing.T) {
	tmpDir := chdirTemp(t)
	cmd, _ := captureCmd()

	err := runInit(cmd, nil, initFlags{Name: "demo", Interpreter: "python3", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(tmpDir, "magpie.toml"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "demo configuration")
	assert.Contains(t, content, `interpreter     = "python3"`)
	assert.Contains(t, content, `model       = "gpt-4o-mini"`)

	// The example workflow ships alongside the config.
	_, err = os.Stat(filepath.Join(tmpDir, "workflows", "daily-report.toml"))
	assert.NoError(t, err)
}

func TestRunInitRefusesToOverwriteWithoutForce(t *testing.T) {
	tmpDir := chdirTemp(t)
	writeFile(t, filepath.Join(tmpDir, "magpie.toml"), "# existing")

	cmd, _ := captureCmd()
	err := runInit(cmd, nil, initFlags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use --force")

	// --force overwrites.
	err = runInit(cmd, nil, initFlags{Force: true, Interpreter: "python3", Model: "gpt-4o-mini"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(tmpDir, "magpie.toml"))
	require.NoError(t, err)
	assert.NotEqual(t, "# existing", string(data))
}

func TestRunInitRejectsUnknownTemplate(t *testing.T) {
	chdirTemp(t)
	cmd, _ := captureCmd()

	err := runInit(cmd, []string{"no-such-template"}, initFlags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, err.Error(), "starter")
}

func TestRunInitRejectsTraversalInName(t *testing.T) {
	chdirTemp(t)
	cmd, _ := captureCmd()

	err := runInit(cmd, nil, initFlags{Name: "../evil"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path traversal")
}
