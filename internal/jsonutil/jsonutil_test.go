package jsonutil

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_CodeFence(t *testing.T) {
	t.Parallel()

	text := "Here is the workflow you asked for:\n\n```json\n{\"name\": \"fetch-report\", \"steps\": []}\n```\n\nLet me know if you want changes."

	raw, err := Extract(text)
	require.NoError(t, err)

	var def map[string]any
	require.NoError(t, json.Unmarshal(raw, &def))
	assert.Equal(t, "fetch-report", def["name"])
}

func TestExtract_UntaggedFence(t *testing.T) {
	t.Parallel()

	text := "```\n{\"ready\": true}\n```"

	raw, err := Extract(text)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ready": true}`, string(raw))
}

func TestExtract_BareBraces(t *testing.T) {
	t.Parallel()

	text := `The definition {"name": "x", "steps": [{"order": 0}]} should work.`

	raw, err := Extract(text)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name": "x", "steps": [{"order": 0}]}`, string(raw))
}

func TestExtract_BracesInsideStrings(t *testing.T) {
	t.Parallel()

	text := `{"msg": "use {placeholder} and \"quotes\" here", "n": 1}`

	raw, err := Extract(text)
	require.NoError(t, err)
	assert.JSONEq(t, text, string(raw))
}

func TestExtract_Array(t *testing.T) {
	t.Parallel()

	text := `Suggestions: ["add a retry", "log the response"] as requested.`

	raw, err := Extract(text)
	require.NoError(t, err)

	var items []string
	require.NoError(t, json.Unmarshal(raw, &items))
	assert.Equal(t, []string{"add a retry", "log the response"}, items)
}

func TestExtract_NoJSON(t *testing.T) {
	t.Parallel()

	_, err := Extract("I need more detail before I can draft anything.")
	assert.Error(t, err)
}

func TestExtract_UnbalancedBraces(t *testing.T) {
	t.Parallel()

	_, err := Extract(`{"name": "incomplete"`)
	assert.Error(t, err)
}

func TestExtract_StripsANSIAndBOM(t *testing.T) {
	t.Parallel()

	text := "\xef\xbb\xbf\x1b[32m{\"ok\": true}\x1b[0m"

	raw, err := Extract(text)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(raw))
}

func TestExtract_SizeCap(t *testing.T) {
	t.Parallel()

	_, err := Extract(strings.Repeat("x", maxInputBytes+1))
	assert.Error(t, err)
}

func TestExtractAll_FenceNotDuplicated(t *testing.T) {
	t.Parallel()

	text := "```json\n{\"a\": 1}\n```\nand also {\"b\": 2}"

	all := ExtractAll(text)
	require.Len(t, all, 2)
	assert.JSONEq(t, `{"a": 1}`, string(all[0]))
	assert.JSONEq(t, `{"b": 2}`, string(all[1]))
}

func TestExtractInto(t *testing.T) {
	t.Parallel()

	var out struct {
		Name  string `json:"name"`
		Ready bool   `json:"ready"`
	}
	err := ExtractInto("reply:\n```json\n{\"name\": \"daily-sync\", \"ready\": true}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "daily-sync", out.Name)
	assert.True(t, out.Ready)
}

func TestExtractInto_TypeMismatch(t *testing.T) {
	t.Parallel()

	var out struct {
		Count int `json:"count"`
	}
	err := ExtractInto(`{"count": "not a number"}`, &out)
	assert.Error(t, err)
}
