// Package handlers implements the built-in scorer kinds. Importing it
// registers every kind with evals.RegisterDefault.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danield137/lev/runtime/providers"
	"github.com/danield137/lev/runtime/types"
)

// judgeMaxTokens caps judge completions.
const judgeMaxTokens = 1024

var (
	// ErrNoJudge is returned by LLM-backed scorers when the scoring context
	// carries no provider.
	ErrNoJudge = errors.New("no judge provider configured")

	// ErrEmptyJudgeReply is returned when the judge answers with no text.
	ErrEmptyJudgeReply = errors.New("judge returned an empty reply")
)

// askJudge sends one user prompt, optionally preceded by a system prompt,
// and returns the trimmed reply. Tools are never offered to the judge and
// sampling is deterministic.
func askJudge(ctx context.Context, judge providers.Provider, system, prompt string) (string, error) {
	if judge == nil {
		return "", ErrNoJudge
	}
	msgs := make([]types.Message, 0, 2)
	if system != "" {
		msgs = append(msgs, types.NewSystemMessage(system))
	}
	msgs = append(msgs, types.NewUserMessage(prompt))

	temperature := 0.0
	resp, err := judge.Complete(ctx, &providers.CompletionRequest{
		Messages:    msgs,
		ToolChoice:  providers.ToolChoiceNone,
		Temperature: &temperature,
		MaxTokens:   judgeMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("judge %s: %w", judge.ID(), err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrEmptyJudgeReply
	}
	return text, nil
}

// verdict is the union of the JSON shapes judges are asked for.
type verdict struct {
	Answered      *bool    `json:"answered"`
	Score         *float64 `json:"score"`
	Rationale     string   `json:"rationale"`
	Justification string   `json:"justification"`
	Reasoning     string   `json:"reasoning"`
}

func (v verdict) reason() string {
	for _, s := range []string{v.Rationale, v.Justification, v.Reasoning} {
		if s != "" {
			return s
		}
	}
	return "No justification provided"
}

// parseVerdict decodes the first JSON object in raw. Judges often wrap the
// object in prose or a markdown fence.
func parseVerdict(raw string) (verdict, error) {
	var v verdict
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return v, fmt.Errorf("judge reply is not JSON: %q", truncate(raw, 200))
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return v, fmt.Errorf("judge reply is not valid JSON: %w", err)
	}
	return v, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
