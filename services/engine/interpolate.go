package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholder matches {{name}} and dotted paths like {{a.b.c}}. It is a
// plain templating pass over identifiers only; expressions never belong
// here (that is the condition evaluator's exclusive job).
var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)\s*\}\}`)

// interpolate walks any value and substitutes {{var}} placeholders in
// every string it finds, including strings nested inside maps and arrays.
// Unresolved placeholders are left verbatim.
func interpolate(v any, vars map[string]any) any {
	switch t := v.(type) {
	case string:
		return interpolateString(t, vars)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = interpolate(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = interpolate(item, vars)
		}
		return out
	}
	return v
}

func interpolateString(s string, vars map[string]any) string {
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		v, ok := lookupPath(vars, name)
		if !ok {
			return match
		}
		return stringify(v)
	})
}

func lookupPath(vars map[string]any, path string) (any, bool) {
	var cur any = vars
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case map[string]any, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}
