package vars

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat_Basic(t *testing.T) {
	t.Parallel()

	v := map[string]any{"city": "Seoul", "limit": float64(10)}

	assert.Equal(t, "weather in Seoul", Format("weather in {city}", v))
	assert.Equal(t, "top 10 results", Format("top {limit} results", v))
}

func TestFormat_WhitespaceInsideBraces(t *testing.T) {
	t.Parallel()

	v := map[string]any{"name": "magpie"}
	assert.Equal(t, "hello magpie", Format("hello { name }", v))
	assert.Equal(t, "hello magpie", Format("hello {\tname }", v))
}

func TestFormat_MissingNameLeftLiteral(t *testing.T) {
	t.Parallel()

	v := map[string]any{"known": "yes"}
	assert.Equal(t, "yes and {unknown}", Format("{known} and {unknown}", v))
}

func TestFormat_Canonicalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string passes through", "plain", "plain"},
		{"int decimal", 42, "42"},
		{"float64 whole number has no fraction", float64(4), "4"},
		{"float64 fraction", 2.5, "2.5"},
		{"float64 no exponent", float64(1200000), "1200000"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"nil is null", nil, "null"},
		{"map compact JSON", map[string]any{"a": float64(1)}, `{"a":1}`},
		{"list compact JSON", []any{"x", float64(2)}, `["x",2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Format("{v}", map[string]any{"v": tt.value})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat_Idempotent(t *testing.T) {
	t.Parallel()

	v := map[string]any{"a": "1", "b": "2"}
	once := Format("{a}+{b}", v)
	assert.Equal(t, "1+2", once)
	assert.Equal(t, once, Format(once, v))
}

func TestFormat_SubstitutedValuesNotRescanned(t *testing.T) {
	t.Parallel()

	// A value containing a placeholder must not be expanded again within
	// the same pass.
	v := map[string]any{"a": "{b}", "b": "inner"}
	assert.Equal(t, "{b}", Format("{a}", v))
}

func TestFormat_NonIdentifierBracesUntouched(t *testing.T) {
	t.Parallel()

	v := map[string]any{"a": "x"}
	assert.Equal(t, "{1bad} { } {a-b}", Format("{1bad} { } {a-b}", v))
}

func TestFormatValue_Recursive(t *testing.T) {
	t.Parallel()

	v := map[string]any{"user": "kim", "n": float64(3)}
	in := map[string]any{
		"greeting": "hi {user}",
		"nested":   map[string]any{"count": "{n}", "keep": float64(7)},
		"list":     []any{"{user}", float64(1), true},
	}

	got := FormatValue(in, v).(map[string]any)
	assert.Equal(t, "hi kim", got["greeting"])
	nested := got["nested"].(map[string]any)
	assert.Equal(t, "3", nested["count"])
	assert.Equal(t, float64(7), nested["keep"])
	list := got["list"].([]any)
	assert.Equal(t, "kim", list[0])
	assert.Equal(t, float64(1), list[1])
	assert.Equal(t, true, list[2])
}

func TestFormatValue_NonContainersPassThrough(t *testing.T) {
	t.Parallel()

	v := map[string]any{}
	assert.Equal(t, float64(5), FormatValue(float64(5), v))
	assert.Equal(t, true, FormatValue(true, v))
	assert.Nil(t, FormatValue(nil, v))
}

func TestFormatParams(t *testing.T) {
	t.Parallel()

	v := map[string]any{"q": "alpha beta", "limit": float64(10)}
	params := map[string]any{"q": "{q}", "limit": "{limit}", "fixed": float64(1)}

	got := FormatParams(params, v)
	assert.Equal(t, map[string]string{
		"q":     "alpha beta",
		"limit": "10",
		"fixed": "1",
	}, got)
}

func TestFormatParams_Empty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, FormatParams(nil, map[string]any{}))
	assert.Nil(t, FormatParams(map[string]any{}, map[string]any{}))
}

func TestStringify_JSONNumber(t *testing.T) {
	t.Parallel()

	// json.Number preserves the source representation.
	assert.Equal(t, "10", Stringify(json.Number("10")))
	assert.Equal(t, "2.50", Stringify(json.Number("2.50")))
}
