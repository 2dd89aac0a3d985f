package apicall

import "strings"

// ApplyTransform reshapes decoded response data per the optional response
// config. Extract walks its dotted path first; map then builds a renamed
// object from source paths relative to the extracted value. Lists are
// transformed element-wise at every stage.
func ApplyTransform(data any, t *TransformConfig) any {
	if t == nil {
		return data
	}
	if t.Extract != "" {
		data = walkPath(data, t.Extract)
	}
	if len(t.Map) == 0 {
		return data
	}
	if list, ok := data.([]any); ok {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = mapFields(item, t.Map)
		}
		return out
	}
	return mapFields(data, t.Map)
}

// walkPath resolves a dotted key path. Maps index by key; lists apply the
// key element-wise, passing non-map elements through untouched. Missing
// keys resolve to nil.
func walkPath(v any, path string) any {
	for _, key := range strings.Split(path, ".") {
		v = walkKey(v, key)
	}
	return v
}

func walkKey(v any, key string) any {
	switch tv := v.(type) {
	case map[string]any:
		return tv[key]
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			if m, ok := item.(map[string]any); ok {
				out[i] = m[key]
			} else {
				out[i] = item
			}
		}
		return out
	default:
		return nil
	}
}

func mapFields(item any, mapping map[string]string) any {
	out := make(map[string]any, len(mapping))
	for dst, src := range mapping {
		out[dst] = walkPath(item, src)
	}
	return out
}
