package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danield137/lev/runtime/evals"
)

// CountRule bounds how often one tool may be called. When Exact is set Min
// and Max are ignored.
type CountRule struct {
	Tool  string
	Exact *int
	Min   *int
	Max   *int
}

// ToolCallCount validates call counts per tool and, optionally, that the
// calls happened in rule order.
//
// Params:
//   - calls: list of {tool, exact|min|max}, or a tool-keyed mapping
//   - order_matters: bool, requires list form since a mapping has no order
type ToolCallCount struct {
	Rules        []CountRule
	OrderMatters bool
}

// NewToolCallCount builds the scorer from a spec.
func NewToolCallCount(spec evals.ScorerSpec) (evals.Scorer, error) {
	entries, ordered, err := keyedEntries(spec.Params, "calls", "bounds")
	if err != nil {
		return nil, err
	}
	s := &ToolCallCount{OrderMatters: boolParam(spec.Params, "order_matters", false)}
	if s.OrderMatters && !ordered {
		return nil, errors.New("order_matters requires calls as a list of {tool, ...} entries")
	}
	for _, e := range entries {
		bounds := e
		if b, ok := asMap(e["bounds"]); ok {
			bounds = b
		}
		rule := CountRule{Tool: e["tool"].(string)}
		for key, dst := range map[string]**int{"exact": &rule.Exact, "min": &rule.Min, "max": &rule.Max} {
			n, present, err := intParam(bounds, key)
			if err != nil {
				return nil, fmt.Errorf("calls[%s]: %w", rule.Tool, err)
			}
			if present {
				v := n
				*dst = &v
			}
		}
		s.Rules = append(s.Rules, rule)
	}
	return s, nil
}

// Score implements evals.Scorer.
func (s *ToolCallCount) Score(_ context.Context, sc *evals.ScoringContext) (evals.Score, error) {
	if len(sc.ToolCalls) == 0 {
		for _, r := range s.Rules {
			if r.Exact != nil && *r.Exact > 0 {
				return fail("%s: expected %d, got 0", r.Tool, *r.Exact), nil
			}
			if r.Exact == nil && r.Min != nil && *r.Min > 0 {
				return fail("%s: min %d, got 0", r.Tool, *r.Min), nil
			}
		}
		return pass("no tool calls required or made"), nil
	}

	counts := make(map[string]int)
	sequence := make([]string, 0, len(sc.ToolCalls))
	for _, c := range sc.ToolCalls {
		counts[c.ToolName]++
		sequence = append(sequence, c.ToolName)
	}

	for _, r := range s.Rules {
		got := counts[r.Tool]
		switch {
		case r.Exact != nil:
			if got != *r.Exact {
				return fail("%s: expected exactly %d, got %d", r.Tool, *r.Exact, got), nil
			}
		case r.Min != nil && got < *r.Min:
			return fail("%s: min %d, got %d", r.Tool, *r.Min, got), nil
		case r.Max != nil && got > *r.Max:
			return fail("%s: max %d, got %d", r.Tool, *r.Max, got), nil
		}
	}

	if s.OrderMatters {
		expected := make([]string, 0, len(s.Rules))
		wanted := make(map[string]bool)
		for _, r := range s.Rules {
			expected = append(expected, r.Tool)
			wanted[r.Tool] = true
		}
		var filtered []string
		for _, name := range sequence {
			if wanted[name] {
				filtered = append(filtered, name)
			}
		}
		for i, tool := range expected {
			if i >= len(filtered) || filtered[i] != tool {
				return fail("sequence mismatch: expected %v, got %v", expected, filtered), nil
			}
		}
	}

	return pass("call counts satisfied: %s", formatCounts(counts)), nil
}

func formatCounts(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", n, counts[n]))
	}
	return strings.Join(parts, ", ")
}

func pass(format string, args ...any) evals.Score {
	return evals.Score{Value: 1, Rationale: fmt.Sprintf(format, args...)}
}

func fail(format string, args ...any) evals.Score {
	return evals.Score{Value: 0, Rationale: fmt.Sprintf(format, args...)}
}
