package handlers

import (
	"context"
	"encoding/json"
	"math"
	"reflect"

	"github.com/danield137/lev/runtime/evals"
	"github.com/danield137/lev/runtime/types"
)

// DefaultTolerance is the numeric tolerance of ToolCallOutput.
const DefaultTolerance = 1e-6

// OutputExpectation is the fragment the first result of Tool must contain.
type OutputExpectation struct {
	Tool     string
	Expected any
}

// ToolCallOutput compares tool results against expected JSON fragments.
//
// Params:
//   - results: list of {tool, expected}, or a mapping of tool to expected
//   - tolerance: numeric tolerance, default 1e-6
//   - ignore_extra: allow keys beyond the expected ones, default true
type ToolCallOutput struct {
	Expectations []OutputExpectation
	Tolerance    float64
	IgnoreExtra  bool
}

// NewToolCallOutput builds the scorer from a spec.
func NewToolCallOutput(spec evals.ScorerSpec) (evals.Scorer, error) {
	entries, _, err := keyedEntries(spec.Params, "results", "expected")
	if err != nil {
		return nil, err
	}
	tol, err := floatParam(spec.Params, "tolerance", DefaultTolerance)
	if err != nil {
		return nil, err
	}
	s := &ToolCallOutput{
		Tolerance:   tol,
		IgnoreExtra: boolParam(spec.Params, "ignore_extra", true),
	}
	for _, e := range entries {
		s.Expectations = append(s.Expectations, OutputExpectation{Tool: e["tool"].(string), Expected: normalize(e["expected"])})
	}
	return s, nil
}

// Score implements evals.Scorer.
func (s *ToolCallOutput) Score(_ context.Context, sc *evals.ScoringContext) (evals.Score, error) {
	if len(sc.ToolCalls) == 0 {
		if len(s.Expectations) > 0 {
			return fail("no tool calls made but output validation expected"), nil
		}
		return pass("no tool calls or output validation required"), nil
	}

	byTool := groupByTool(sc.ToolCalls, func(c types.ToolCallRecord) string { return c.ToolName })
	for _, exp := range s.Expectations {
		calls, ok := byTool[exp.Tool]
		if !ok {
			return fail("missing tool calls for %s", exp.Tool), nil
		}
		actual := calls[0].Result
		if !s.matches(exp.Expected, actual) {
			return fail("result mismatch for %s: expected subset of %s, got %s", exp.Tool, asString(exp.Expected), asString(actual)), nil
		}
	}
	return pass("all output validations passed"), nil
}

// matches reports whether actual contains expected. Objects match by subset
// unless IgnoreExtra is off, lists match element-wise with equal length and
// numbers match within Tolerance.
func (s *ToolCallOutput) matches(expected, actual any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := asMap(actual)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, ok := act[k]
			if !ok || !s.matches(v, av) {
				return false
			}
		}
		return s.IgnoreExtra || len(act) == len(exp)
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !s.matches(exp[i], act[i]) {
				return false
			}
		}
		return true
	}

	if ef, ok := toFloat(expected); ok {
		af, ok := toFloat(actual)
		return ok && math.Abs(af-ef) <= s.Tolerance
	}
	return reflect.DeepEqual(expected, actual)
}

// normalize round-trips YAML-decoded values through JSON so they compare
// against decoded tool output with the same types.
func normalize(v any) any {
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = normalize(val)
		}
		return out
	}
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		for i, val := range list {
			out[i] = normalize(val)
		}
		return out
	}
	if _, ok := toFloat(v); ok {
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
