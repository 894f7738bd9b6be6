package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danield137/lev/runtime/evals"
	"github.com/danield137/lev/runtime/template"
)

const defaultJudgeSystemPrompt = "You are an evaluation judge. Score the assistant's work strictly " +
	"against the rubric and reply with JSON only."

const defaultJudgePrompt = `Evaluate the assistant's answer to the user's question using the rubric.

RUBRIC:
{{rubric}}

QUESTION:
{{question}}

TRANSCRIPT:
{{transcript}}

FINAL ANSWER:
{{answer}}

Reply with the following JSON ONLY:
{"score": 0.0-1.0, "rationale": "concise reason for the score"}`

// LLMJudge asks the judge provider to score the run against a rubric.
//
// Params:
//   - rubric (string, required): what a good answer looks like
//   - prompt (string, optional): replaces the default prompt; may use
//     {{rubric}}, {{question}}, {{transcript}}, {{answer}} and {{expected}}
//   - system_prompt (string, optional): overrides the judge system prompt
//
// A reply that is not JSON with a numeric score is a scorer error.
type LLMJudge struct {
	Rubric       string
	SystemPrompt string
	prompt       *template.Template
}

// NewLLMJudge builds the scorer from a spec.
func NewLLMJudge(spec evals.ScorerSpec) (evals.Scorer, error) {
	rubric, _ := stringParam(spec.Params, "rubric")
	if rubric == "" {
		return nil, errors.New("parameter \"rubric\" is required")
	}
	text := defaultJudgePrompt
	if custom, _ := stringParam(spec.Params, "prompt"); custom != "" {
		text = custom
	}
	system := defaultJudgeSystemPrompt
	if custom, ok := stringParam(spec.Params, "system_prompt"); ok {
		system = custom
	}
	return &LLMJudge{Rubric: rubric, SystemPrompt: system, prompt: template.Parse(text)}, nil
}

// Score implements evals.Scorer.
func (s *LLMJudge) Score(ctx context.Context, sc *evals.ScoringContext) (evals.Score, error) {
	prompt, err := s.prompt.Render(map[string]string{
		"rubric":     s.Rubric,
		"question":   sc.Question(),
		"transcript": sc.History.RenderTrace(0),
		"answer":     sc.Answer,
		"expected":   asString(sc.Expectations["expected"]),
	})
	if err != nil {
		return evals.Score{}, err
	}

	raw, err := askJudge(ctx, sc.Provider, s.SystemPrompt, prompt)
	if err != nil {
		return evals.Score{}, err
	}
	v, err := parseVerdict(raw)
	if err != nil {
		return evals.Score{}, err
	}
	if v.Score == nil {
		return evals.Score{}, fmt.Errorf("judge reply has no score: %q", truncate(raw, 200))
	}
	return evals.Score{Value: *v.Score, Rationale: v.reason()}, nil
}
