// Package vars implements `{name}` template substitution over workflow
// variables. Templates appear in API-call configs (URLs, query params,
// bodies), notification texts, and data-transform expressions; values come
// from the execution's variable map and may be any JSON-representable type.
package vars

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/magpieflow/magpie/internal/logging"
)

var logger = logging.New("vars")

// rePlaceholder matches `{name}` where name is an identifier. Whitespace
// inside the braces is tolerated and stripped before lookup.
var rePlaceholder = regexp.MustCompile(`\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}`)

// Format replaces every `{name}` occurrence in template with the canonical
// string form of v[name]. Missing names are left literal and logged as a
// warning; Format never fails. Replacement is single-pass: substituted
// values are not rescanned, so the result is stable under re-application
// once no matching placeholder remains.
func Format(template string, v map[string]any) string {
	if template == "" || !strings.Contains(template, "{") {
		return template
	}
	return rePlaceholder.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[1 : len(match)-1])
		val, ok := v[name]
		if !ok {
			logger.Warn("template references unknown variable", "name", name)
			return match
		}
		return Stringify(val)
	})
}

// FormatValue applies Format recursively: strings are formatted, map values
// and list elements are descended into, and every other type passes through
// unchanged.
func FormatValue(value any, v map[string]any) any {
	switch tv := value.(type) {
	case string:
		return Format(tv, v)
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, elem := range tv {
			out[k] = FormatValue(elem, v)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, elem := range tv {
			out[i] = FormatValue(elem, v)
		}
		return out
	default:
		return value
	}
}

// FormatParams formats each value of a parameter map into its final string
// form, substituting placeholders first. Used for URL query parameters.
func FormatParams(params map[string]any, v map[string]any) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, val := range params {
		out[k] = Stringify(FormatValue(val, v))
	}
	return out
}

// Stringify renders a value in its canonical string form: strings pass
// through, integers and floats print in plain decimal, booleans print as
// true/false, nil prints as null, and structured values print as compact
// JSON.
func Stringify(value any) string {
	switch tv := value.(type) {
	case nil:
		return "null"
	case string:
		return tv
	case bool:
		return strconv.FormatBool(tv)
	case int:
		return strconv.Itoa(tv)
	case int64:
		return strconv.FormatInt(tv, 10)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(tv), 'f', -1, 32)
	case json.Number:
		return tv.String()
	case map[string]any, []any:
		b, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprintf("%v", tv)
		}
		return string(b)
	default:
		b, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprintf("%v", tv)
		}
		return strings.Trim(string(b), `"`)
	}
}
