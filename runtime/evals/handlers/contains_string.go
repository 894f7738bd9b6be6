package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/danield137/lev/runtime/evals"
)

// ContainsString checks that the final answer contains Target.
// Params: target string, case_sensitive bool (default false).
type ContainsString struct {
	Target        string
	CaseSensitive bool
}

// NewContainsString builds the scorer from a spec.
func NewContainsString(spec evals.ScorerSpec) (evals.Scorer, error) {
	target, _ := stringParam(spec.Params, "target")
	if target == "" {
		// target_string is the key older manifests used.
		target, _ = stringParam(spec.Params, "target_string")
	}
	if target == "" {
		return nil, errors.New("parameter \"target\" is required")
	}
	return &ContainsString{Target: target, CaseSensitive: boolParam(spec.Params, "case_sensitive", false)}, nil
}

// Score implements evals.Scorer.
func (s *ContainsString) Score(_ context.Context, sc *evals.ScoringContext) (evals.Score, error) {
	if sc.Answer == "" {
		return evals.Score{Value: 0, Rationale: fmt.Sprintf("No answer to check for '%s'", s.Target)}, nil
	}
	text, target := sc.Answer, s.Target
	if !s.CaseSensitive {
		text, target = strings.ToLower(text), strings.ToLower(target)
	}
	if strings.Contains(text, target) {
		return evals.Score{Value: 1, Rationale: fmt.Sprintf("Found '%s' in answer", s.Target)}, nil
	}
	return evals.Score{Value: 0, Rationale: fmt.Sprintf("'%s' not found in answer", s.Target)}, nil
}
