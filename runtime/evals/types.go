// Package evals scores finished agent runs.
//
// A ScorerSpec names a scorer kind and its parameters. The Registry resolves
// specs into Scorers through per-kind factories; built-in kinds live in the
// handlers subpackage and register themselves on import. Scorers read a
// ScoringContext built from the run's history and never mutate it.
package evals

import (
	"context"

	"github.com/danield137/lev/runtime/history"
	"github.com/danield137/lev/runtime/providers"
	"github.com/danield137/lev/runtime/types"
)

// DefaultWeight is used when a spec does not set one.
const DefaultWeight = 1.0

// ScorerSpec declares one scorer of an eval case.
type ScorerSpec struct {
	Kind   string         `json:"type" yaml:"type"`
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Weight *float64       `json:"weight,omitempty" yaml:"weight,omitempty"`
	Params map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Metric is the name the scorer's entry is reported under.
func (s ScorerSpec) Metric() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Kind
}

// EffectiveWeight returns the configured weight or DefaultWeight.
func (s ScorerSpec) EffectiveWeight() float64 {
	if s.Weight == nil {
		return DefaultWeight
	}
	return *s.Weight
}

// Score is what a scorer produces: a value in [0,1] and a rationale.
type Score struct {
	Value     float64 `json:"value"`
	Rationale string  `json:"rationale"`
}

// ScoreEntry is one scorer's contribution to a result record. Entries with
// Error set are excluded from the aggregate.
type ScoreEntry struct {
	Metric     string  `json:"metric"`
	Kind       string  `json:"kind"`
	Value      float64 `json:"value"`
	Rationale  string  `json:"rationale,omitempty"`
	Weight     float64 `json:"weight"`
	Error      string  `json:"error,omitempty"`
	ErrorKind  string  `json:"error_kind,omitempty"`
	DurationMs int64   `json:"duration_ms"`
}

// Errored reports whether the scorer failed to produce a value.
func (e ScoreEntry) Errored() bool { return e.Error != "" }

// ScoringContext is the read-only view of a finished run handed to scorers.
// Provider is the judge used by LLM-backed kinds and may be nil.
type ScoringContext struct {
	History      *history.ChatHistory
	Answer       string
	ToolCalls    []types.ToolCallRecord
	Expectations map[string]any
	Provider     providers.Provider
}

// NewScoringContext builds a context from a run's history. The answer is the
// reply content when a reply exists, else the last assistant message.
func NewScoringContext(h *history.ChatHistory, reply *types.Reply, expectations map[string]any, judge providers.Provider) *ScoringContext {
	sc := &ScoringContext{
		History:      h,
		Expectations: expectations,
		Provider:     judge,
	}
	if h == nil {
		sc.History = history.New()
	}
	switch {
	case reply != nil:
		sc.Answer = reply.Content
	default:
		if m, ok := sc.History.Last(types.RoleAssistant); ok {
			sc.Answer = m.Content
		}
	}
	sc.ToolCalls = sc.History.ToolCalls()
	return sc
}

// Question returns the first user message, which is the case prompt.
func (sc *ScoringContext) Question() string {
	for _, m := range sc.History.All() {
		if m.Role == types.RoleUser {
			return m.Content
		}
	}
	return ""
}

// Scorer evaluates a finished run.
type Scorer interface {
	Score(ctx context.Context, sc *ScoringContext) (Score, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, sc *ScoringContext) (Score, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, sc *ScoringContext) (Score, error) {
	return f(ctx, sc)
}
