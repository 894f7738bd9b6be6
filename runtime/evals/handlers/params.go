package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// stringParam extracts a string parameter.
func stringParam(params map[string]any, key string) (string, bool) {
	s, ok := params[key].(string)
	return s, ok
}

// boolParam extracts a boolean parameter, accepting "true"/"false" strings.
func boolParam(params map[string]any, key string, def bool) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// floatParam extracts a numeric parameter.
func floatParam(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("parameter %q must be a number, got %T", key, v)
	}
	return f, nil
}

// intParam extracts an integer parameter. The bool reports presence.
func intParam(m map[string]any, key string) (int, bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, true, fmt.Errorf("%q must be an integer, got %v", key, v)
	}
	return int(f), true, nil
}

// toFloat converts the numeric types produced by YAML and JSON decoding.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// asMap accepts both map[string]any and the map[any]any some decoders produce.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// listOfMaps extracts a list of objects parameter.
func listOfMaps(v any, key string) ([]map[string]any, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be a list, got %T", key, v)
	}
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an object, got %T", key, i, item)
		}
		out = append(out, m)
	}
	return out, nil
}

// keyedEntries normalizes a parameter given either as a list of objects
// carrying a "tool" key or as a tool-keyed mapping. Mapping form loses
// declaration order, so its entries are sorted by tool; ordered reports
// whether the list form was used. valueKey names the field the mapping
// value is stored under.
func keyedEntries(params map[string]any, key, valueKey string) (entries []map[string]any, ordered bool, err error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, true, nil
	}
	if m, ok := asMap(raw); ok {
		tools := make([]string, 0, len(m))
		for tool := range m {
			tools = append(tools, tool)
		}
		sort.Strings(tools)
		for _, tool := range tools {
			entries = append(entries, map[string]any{"tool": tool, valueKey: m[tool]})
		}
		return entries, false, nil
	}
	entries, err = listOfMaps(raw, key)
	if err != nil {
		return nil, true, err
	}
	for i, e := range entries {
		if tool, _ := e["tool"].(string); tool == "" {
			return nil, true, fmt.Errorf("%s[%d]: tool is required", key, i)
		}
	}
	return entries, true, nil
}

// asString renders a value the way it reads in a transcript: whole numbers
// without a fraction, objects as JSON.
func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err == nil {
			return string(b)
		}
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

// groupByTool indexes tool call positions by tool name, preserving order.
func groupByTool[T any](calls []T, name func(T) string) map[string][]T {
	out := make(map[string][]T)
	for _, c := range calls {
		n := name(c)
		out[n] = append(out[n], c)
	}
	return out
}
