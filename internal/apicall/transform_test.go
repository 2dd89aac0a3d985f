package apicall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyTransform_NilPassthrough(t *testing.T) {
	t.Parallel()

	data := map[string]any{"a": 1}
	assert.Equal(t, data, ApplyTransform(data, nil))
	assert.Equal(t, data, ApplyTransform(data, &TransformConfig{}))
}

func TestApplyTransform_ExtractNestedPath(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"data": map[string]any{
			"items": []any{1.0, 2.0, 3.0},
		},
	}
	got := ApplyTransform(data, &TransformConfig{Extract: "data.items"})
	assert.Equal(t, []any{1.0, 2.0, 3.0}, got)
}

func TestApplyTransform_ExtractThroughList(t *testing.T) {
	t.Parallel()

	// A path segment over a list applies element-wise.
	data := map[string]any{
		"items": []any{
			map[string]any{"id": 1.0, "label": "a"},
			map[string]any{"id": 2.0, "label": "b"},
		},
	}
	got := ApplyTransform(data, &TransformConfig{Extract: "items.id"})
	assert.Equal(t, []any{1.0, 2.0}, got)
}

func TestApplyTransform_ExtractMissingPathIsNil(t *testing.T) {
	t.Parallel()

	data := map[string]any{"a": map[string]any{"b": 1.0}}
	assert.Nil(t, ApplyTransform(data, &TransformConfig{Extract: "a.missing.deep"}))
	assert.Nil(t, ApplyTransform("scalar", &TransformConfig{Extract: "a"}))
}

func TestApplyTransform_ListWithNonMapElements(t *testing.T) {
	t.Parallel()

	data := []any{map[string]any{"id": 1.0}, "loose", 7.0}
	got := ApplyTransform(data, &TransformConfig{Extract: "id"})
	assert.Equal(t, []any{1.0, "loose", 7.0}, got)
}

func TestApplyTransform_MapRenamesFields(t *testing.T) {
	t.Parallel()

	data := map[string]any{"label": "alpha", "score": 0.9, "extra": true}
	got := ApplyTransform(data, &TransformConfig{Map: map[string]string{
		"name":  "label",
		"value": "score",
	}})
	assert.Equal(t, map[string]any{"name": "alpha", "value": 0.9}, got)
}

func TestApplyTransform_MapOverList(t *testing.T) {
	t.Parallel()

	data := []any{
		map[string]any{"label": "a", "score": 1.0},
		map[string]any{"label": "b", "score": 2.0},
	}
	got := ApplyTransform(data, &TransformConfig{Map: map[string]string{"name": "label"}})
	assert.Equal(t, []any{
		map[string]any{"name": "a"},
		map[string]any{"name": "b"},
	}, got)
}

func TestApplyTransform_MapWithDottedSource(t *testing.T) {
	t.Parallel()

	data := map[string]any{"user": map[string]any{"name": "alpha"}}
	got := ApplyTransform(data, &TransformConfig{Map: map[string]string{"username": "user.name"}})
	assert.Equal(t, map[string]any{"username": "alpha"}, got)
}

func TestApplyTransform_ExtractThenMap(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"data": map[string]any{
			"items": []any{
				map[string]any{"id": 1.0, "label": "a"},
				map[string]any{"id": 2.0, "label": "b"},
			},
		},
	}
	got := ApplyTransform(data, &TransformConfig{
		Extract: "data.items",
		Map:     map[string]string{"name": "label", "key": "id"},
	})
	assert.Equal(t, []any{
		map[string]any{"name": "a", "key": 1.0},
		map[string]any{"name": "b", "key": 2.0},
	}, got)
}

func TestApplyTransform_MapMissingSourceIsNil(t *testing.T) {
	t.Parallel()

	data := map[string]any{"present": 1.0}
	got := ApplyTransform(data, &TransformConfig{Map: map[string]string{"out": "absent"}})
	assert.Equal(t, map[string]any{"out": nil}, got)
}
