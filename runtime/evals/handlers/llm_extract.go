package handlers

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danield137/lev/runtime/evals"
	"github.com/danield137/lev/runtime/template"
	"github.com/danield137/lev/runtime/types"
)

// numericTolerance is how close an extracted number must be to the expected one.
const numericTolerance = 1e-3

var extractPrompt = template.Parse(`Extract ONLY the scalar value that answers the question. Return just the value.

Question: {{question}}

Answer: {{answer}}`)

// LLMExtract has the judge pull a single value out of the assistant's
// answer and compares it with the expected one. Numbers match within 1e-3,
// anything else by case-insensitive equality.
//
// Params:
//   - expected (any): the value to match; falls back to the case
//     expectation of the same name
//   - system_prompt (string, optional)
type LLMExtract struct {
	Expected     any
	SystemPrompt string
}

// NewLLMExtract builds the scorer from a spec.
func NewLLMExtract(spec evals.ScorerSpec) (evals.Scorer, error) {
	s := &LLMExtract{Expected: spec.Params["expected"]}
	s.SystemPrompt, _ = stringParam(spec.Params, "system_prompt")
	return s, nil
}

// Score implements evals.Scorer.
func (s *LLMExtract) Score(ctx context.Context, sc *evals.ScoringContext) (evals.Score, error) {
	expected := s.Expected
	if expected == nil {
		expected = sc.Expectations["expected"]
	}
	if expected == nil {
		return fail("No expected value provided"), nil
	}

	question := sc.Question()
	if question == "" {
		return fail("No user question found"), nil
	}
	var parts []string
	for _, m := range sc.History.ByRole(types.RoleAssistant) {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	if len(parts) == 0 {
		return fail("No assistant answer found"), nil
	}

	prompt, err := extractPrompt.Render(map[string]string{
		"question": question,
		"answer":   strings.Join(parts, "\n"),
	})
	if err != nil {
		return evals.Score{}, err
	}
	extracted, err := askJudge(ctx, sc.Provider, s.SystemPrompt, prompt)
	if err != nil {
		return evals.Score{}, err
	}

	match := valuesEqual(extracted, expected)
	score := 0.0
	if match {
		score = 1
	}
	return evals.Score{
		Value:     score,
		Rationale: fmt.Sprintf("Expected: %s, Extracted: %s, Match: %t", asString(expected), extracted, match),
	}, nil
}

// valuesEqual compares an extracted string with the expected value. When
// the expected value is numeric the extraction must parse as a number.
func valuesEqual(extracted string, expected any) bool {
	if want, ok := toFloat(expected); ok {
		got, err := strconv.ParseFloat(strings.TrimSpace(extracted), 64)
		if err == nil {
			return math.Abs(got-want) < numericTolerance
		}
	}
	return strings.EqualFold(strings.TrimSpace(extracted), asString(expected))
}
