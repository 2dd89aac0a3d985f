package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInputDataLayersVarsOverInput(t *testing.T) {
	input, err := buildInputData(`{"city": "Berlin", "limit": 5}`, []string{"city=Munich"})
	require.NoError(t, err)

	assert.Equal(t, "Munich", input["city"])
	assert.Equal(t, float64(5), input["limit"])
}

func TestBuildInputDataEmpty(t *testing.T) {
	input, err := buildInputData("", nil)
	require.NoError(t, err)
	assert.Empty(t, input)
}

func TestBuildInputDataRejectsBadJSON(t *testing.T) {
	_, err := buildInputData(`{"city": `, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing --input")
}

func TestBuildInputDataRejectsBadVar(t *testing.T) {
	for _, pair := range []string{"novalue", "=orphan"} {
		_, err := buildInputData("", []string{pair})
		require.Error(t, err, "pair %q", pair)
		assert.Contains(t, err.Error(), "want key=value")
	}
}

func TestParseVarValueTypes(t *testing.T) {
	// JSON-parseable values come through typed.
	assert.Equal(t, float64(42), parseVarValue("42"))
	assert.Equal(t, true, parseVarValue("true"))
	assert.Equal(t, []any{float64(1), float64(2)}, parseVarValue("[1, 2]"))
	assert.Equal(t, map[string]any{"a": float64(1)}, parseVarValue(`{"a": 1}`))

	// Everything else stays a string.
	assert.Equal(t, "alpha beta", parseVarValue("alpha beta"))
	assert.Equal(t, "", parseVarValue(""))
}
