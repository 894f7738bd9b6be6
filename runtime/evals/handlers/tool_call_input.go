package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/danield137/lev/runtime/evals"
	"github.com/danield137/lev/runtime/types"
)

// Input match modes.
const (
	ModeExact    = "exact"
	ModeContains = "contains"
	ModeRegex    = "regex"
)

// InputCheck asserts one argument of the first call to Tool. Field is a
// JMESPath expression evaluated against the call arguments; a plain key
// that exists in the arguments is used as-is.
type InputCheck struct {
	Tool  string
	Field string
	Value string
	Mode  string

	path    *jmespath.JMESPath
	pattern *regexp.Regexp
}

// ToolCallInput validates the arguments tools were called with.
//
// Params:
//   - inputs: list of {tool, field, value, mode}, or a mapping of
//     tool to a list of {field, value, mode}. mode defaults to exact.
type ToolCallInput struct {
	Checks []InputCheck
}

// NewToolCallInput builds the scorer from a spec. Field expressions and
// regex patterns are compiled here.
func NewToolCallInput(spec evals.ScorerSpec) (evals.Scorer, error) {
	entries, _, err := keyedEntries(spec.Params, "inputs", "checks")
	if err != nil {
		return nil, err
	}

	var flat []map[string]any
	for _, e := range entries {
		if raw, ok := e["checks"]; ok {
			checks, err := listOfMaps(raw, "inputs."+e["tool"].(string))
			if err != nil {
				return nil, err
			}
			for _, c := range checks {
				c["tool"] = e["tool"]
				flat = append(flat, c)
			}
			continue
		}
		flat = append(flat, e)
	}

	s := &ToolCallInput{}
	for _, c := range flat {
		check := InputCheck{
			Tool:  c["tool"].(string),
			Field: asString(c["field"]),
			Value: asString(c["value"]),
			Mode:  ModeExact,
		}
		if m, ok := c["mode"].(string); ok && m != "" {
			check.Mode = m
		}
		if check.Field == "" {
			return nil, fmt.Errorf("inputs[%s]: field is required", check.Tool)
		}
		// Keys such as "city-name" are not valid expressions; they still
		// match as plain keys.
		check.path, _ = jmespath.Compile(check.Field)
		if check.Mode == ModeRegex {
			if check.pattern, err = regexp.Compile(check.Value); err != nil {
				return nil, fmt.Errorf("inputs[%s]: invalid pattern %q: %w", check.Tool, check.Value, err)
			}
		}
		s.Checks = append(s.Checks, check)
	}
	return s, nil
}

// Score implements evals.Scorer.
func (s *ToolCallInput) Score(_ context.Context, sc *evals.ScoringContext) (evals.Score, error) {
	if len(sc.ToolCalls) == 0 {
		if len(s.Checks) > 0 {
			return fail("no tool calls made but input validation expected"), nil
		}
		return pass("no tool calls or input validation required"), nil
	}

	byTool := groupByTool(sc.ToolCalls, func(c types.ToolCallRecord) string { return c.ToolName })
	for _, check := range s.Checks {
		calls, ok := byTool[check.Tool]
		if !ok {
			return fail("missing tool calls for %s", check.Tool), nil
		}
		value, found := check.lookup(calls[0].Arguments)
		if !found {
			return fail("%s.%s missing in arguments", check.Tool, check.Field), nil
		}
		actual := asString(value)

		switch check.Mode {
		case ModeExact:
			if actual != check.Value {
				return fail("%s.%s: expected '%s', got '%s'", check.Tool, check.Field, check.Value, actual), nil
			}
		case ModeContains:
			if !strings.Contains(actual, check.Value) {
				return fail("%s.%s: '%s' not found in '%s'", check.Tool, check.Field, check.Value, actual), nil
			}
		case ModeRegex:
			if !check.pattern.MatchString(actual) {
				return fail("%s.%s: pattern '%s' not matched in '%s'", check.Tool, check.Field, check.Value, actual), nil
			}
		default:
			return fail("invalid mode '%s' for %s.%s", check.Mode, check.Tool, check.Field), nil
		}
	}
	return pass("all input validations passed"), nil
}

func (c InputCheck) lookup(args map[string]any) (any, bool) {
	if v, ok := args[c.Field]; ok {
		return v, true
	}
	if c.path == nil {
		return nil, false
	}
	v, err := c.path.Search(args)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}
