package config

import (
	"fmt"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/evals"
	"github.com/danield137/lev/runtime/evaluator"
)

// EvalCases merges the suite defaults into every case and resolves server
// and persona references. A persona sets the system prompt unless the case's
// own execution block sets one. The result is ready for the evaluator.
func (s *Suite) EvalCases() ([]evaluator.EvalCase, error) {
	out := make([]evaluator.EvalCase, 0, len(s.Cases))
	for i, c := range s.Cases {
		names := c.Servers
		if len(names) == 0 {
			names = s.Defaults.Servers
		}
		servers := make([]evaluator.ServerSpec, 0, len(names))
		for _, name := range names {
			srv, ok := s.Servers[name]
			if !ok {
				return nil, &levErrors.ConfigError{
					Field:   fmt.Sprintf("cases[%d].servers", i),
					Message: fmt.Sprintf("unknown server %q", name),
				}
			}
			servers = append(servers, srv)
		}

		exec := mergeExecution(s.Defaults.Execution, c.Execution)
		if ref := s.casePersona(c); ref != "" && (c.Execution == nil || c.Execution.SystemPrompt == "") {
			exec.SystemPrompt, _ = s.ResolvePersona(ref)
		}

		out = append(out, evaluator.EvalCase{
			ID:           c.ID,
			Prompt:       c.Prompt,
			Servers:      servers,
			Execution:    exec,
			Scorers:      s.caseScorers(c),
			Expectations: c.Expectations,
		})
	}
	return out, nil
}

// caseScorers returns the default scorers followed by the case's own.
func (s *Suite) caseScorers(c CaseSpec) []evals.ScorerSpec {
	var out []evals.ScorerSpec
	if !c.SkipDefaultScorers {
		out = append(out, s.Defaults.Scorers...)
	}
	return append(out, c.Scorers...)
}

// mergeExecution overlays the fields set in override onto base.
func mergeExecution(base evaluator.ExecutionConfig, override *evaluator.ExecutionConfig) evaluator.ExecutionConfig {
	if override == nil {
		return base
	}
	o := *override
	if o.MaxDepth != nil {
		base.MaxDepth = o.MaxDepth
	}
	if o.Budget.MaxSize > 0 {
		base.Budget = o.Budget
	}
	if o.ToolChoice != "" {
		base.ToolChoice = o.ToolChoice
	}
	if o.SystemPrompt != "" {
		base.SystemPrompt = o.SystemPrompt
	}
	if o.Temperature != nil {
		base.Temperature = o.Temperature
	}
	if o.MaxTokens > 0 {
		base.MaxTokens = o.MaxTokens
	}
	if o.Timeout > 0 {
		base.Timeout = o.Timeout
	}
	if o.ScorerTimeout > 0 {
		base.ScorerTimeout = o.ScorerTimeout
	}
	if o.ToolTimeout > 0 {
		base.ToolTimeout = o.ToolTimeout
	}
	return base
}
