package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalCondition_Comparisons(t *testing.T) {
	t.Parallel()

	view := map[string]any{
		"count":  float64(5),
		"name":   "alpha",
		"active": true,
		"items":  []any{1, 2, 3},
		"empty":  []any{},
		"ratio":  2.5,
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"count == 5", true},
		{"count != 5", false},
		{"count > 3", true},
		{"count >= 5", true},
		{"count < 5", false},
		{"count <= 4", false},
		{"ratio > 2", true},
		{"name == 'alpha'", true},
		{"name == \"beta\"", false},
		{"name < 'beta'", true},
		{"active == true", true},
		{"active == True", true},
		{"count == '5'", false},
		{"len(items) > 0", true},
		{"len(empty) == 0", true},
		{"len(name) == 5", true},
		{"int('7') == 7", true},
		{"float('2.5') == ratio", true},
		{"str(count) == '5'", true},
		{"bool(empty) == false", true},
		{"-count < 0", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvalCondition(tt.expr, view)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalCondition_BooleanOperators(t *testing.T) {
	t.Parallel()

	view := map[string]any{"a": true, "b": false, "n": float64(1)}

	tests := []struct {
		expr string
		want bool
	}{
		{"a and b", false},
		{"a or b", true},
		{"not b", true},
		{"a && !b", true},
		{"b || a", true},
		{"not (a and b)", true},
		{"a and n > 0", true},
		{"b or n == 1", true},
		{"True and not False", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := EvalCondition(tt.expr, view)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalCondition_ShortCircuit(t *testing.T) {
	t.Parallel()

	// The right side references an unknown name but is guarded by the left.
	// Short-circuiting still requires it to be syntactically valid, which it
	// is; the unknown name must not be resolved.
	got, err := EvalCondition("true or missing", map[string]any{})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvalCondition("false and missing", map[string]any{})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestEval_Truthiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"false", false, false},
		{"true", true, true},
		{"zero", float64(0), false},
		{"nonzero", float64(3), true},
		{"empty string", "", false},
		{"string", "x", true},
		{"empty slice", []any{}, false},
		{"slice", []any{1}, true},
		{"empty map", map[string]any{}, false},
		{"map", map[string]any{"k": 1}, true},
		{"int zero", 0, false},
		{"int", 42, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truthy(tt.value))
		})
	}
}

func TestEvalCondition_PythonSpellings(t *testing.T) {
	t.Parallel()

	view := map[string]any{"status": "done", "v": nil}

	got, err := EvalCondition("status == 'done' and v == None", view)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvalCondition("v == null or v == nil", view)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEval_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
	}{
		{"unknown name", "missing > 1"},
		{"unterminated string", "name == 'alpha"},
		{"dangling operator", "count >"},
		{"unbalanced paren", "(count > 1"},
		{"ordering mixed types", "name > 5"},
		{"len of number", "len(5)"},
		{"empty", ""},
		{"attribute access", "obj.field == 1"},
	}

	view := map[string]any{"count": float64(2), "name": "x", "obj": map[string]any{"field": 1}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Eval(tt.expr, view)
			require.Error(t, err)

			var werr *Error
			require.True(t, errors.As(err, &werr))
			assert.Equal(t, KindEvaluation, werr.Kind)
		})
	}
}

func TestEval_ReturnsValues(t *testing.T) {
	t.Parallel()

	view := map[string]any{"n": float64(4), "s": "hi", "list": []any{1, 2}}

	v, err := Eval("n", view)
	require.NoError(t, err)
	assert.Equal(t, float64(4), v)

	v, err = Eval("len(list)", view)
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)

	v, err = Eval("str(n)", view)
	require.NoError(t, err)
	assert.Equal(t, "4", v)

	v, err = Eval("'literal'", view)
	require.NoError(t, err)
	assert.Equal(t, "literal", v)
}

func TestParseCondition(t *testing.T) {
	t.Parallel()

	// Unknown names are fine at parse time.
	assert.NoError(t, ParseCondition("missing_var > 5 and other == 'x'"))
	assert.NoError(t, ParseCondition("len(anything) == 0"))

	assert.Error(t, ParseCondition("a >"))
	assert.Error(t, ParseCondition("(a"))
	assert.Error(t, ParseCondition("a == 'unterminated"))
	assert.Error(t, ParseCondition("a b"))
}
