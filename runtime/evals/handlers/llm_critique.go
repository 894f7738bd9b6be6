package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/danield137/lev/runtime/evals"
	"github.com/danield137/lev/runtime/template"
	"github.com/danield137/lev/runtime/types"
)

const (
	// DefaultMaxTraceChars bounds the rendered critique prompt.
	DefaultMaxTraceChars = 10000

	// critiqueOverhead is reserved for the fixed template text.
	critiqueOverhead = 200
)

var critiquePrompt = template.Parse(`
You are evaluating whether an assistant's response adequately answered a user's query.

Use this scale to build your answer:
1: The answer is terrible: irrelevant to the question asked, or very partial
2: The answer is mostly not helpful: misses key aspects of the question
3: The answer is mostly helpful: provides support, but could still be improved
4: The answer is excellent: relevant, direct, detailed, and addresses every concern raised in the question

Evaluation rules:
- If the answer shows a valid query, detailed reasoning and internally consistent results, assume it is correct unless you can point to a clear logical or arithmetic mistake.
- Do not downgrade answers because reported values look unusually large or small; rely only on the consistency and correctness of the reasoning shown.
- Tool calls in the conversation appear as [tool_call:<server>.<tool>](<args>). Assume they are real and their responses truthful.
- Judge adequacy and helpfulness relative to the user query. Do not re-run the data or fact-check external sources.

Map the scale onto score 0.0-1.0 and reply with the following JSON ONLY:
{
  "answered": true/false,
  "score": 0.0-1.0,
  "justification": "concise and to the point reason for the score."
}

---
USER QUERY:
{{user_query}}
===
CONVERSATION:
{{conversation}}
===
TOOL CALLS:
{{tool_calls}}
`)

// heavyKeys are the result fields dropped first when tool calls must shrink.
var heavyKeys = []string{"response", "content", "tool_result", "result", "output", "return_value"}

// LLMCritique asks the judge whether the assistant adequately answered the
// question, given the rendered conversation trace and the tool calls.
//
// Params:
//   - max_trace_chars (int, optional): prompt budget, default 10000
//   - system_prompt (string, optional): judge system prompt
type LLMCritique struct {
	MaxChars     int
	SystemPrompt string
}

// NewLLMCritique builds the scorer from a spec.
func NewLLMCritique(spec evals.ScorerSpec) (evals.Scorer, error) {
	s := &LLMCritique{MaxChars: DefaultMaxTraceChars}
	n, present, err := intParam(spec.Params, "max_trace_chars")
	if err != nil {
		return nil, err
	}
	if present {
		if n <= critiqueOverhead {
			return nil, fmt.Errorf("max_trace_chars must be greater than %d", critiqueOverhead)
		}
		s.MaxChars = n
	}
	s.SystemPrompt, _ = stringParam(spec.Params, "system_prompt")
	return s, nil
}

// Score implements evals.Scorer.
func (s *LLMCritique) Score(ctx context.Context, sc *evals.ScoringContext) (evals.Score, error) {
	query := sc.Question()
	if query == "" {
		return fail("No user query found"), nil
	}
	conversation := sc.History.RenderTrace(0)

	used := utf8.RuneCountInString(query) + utf8.RuneCountInString(conversation)
	remaining := max(0, s.MaxChars-used-critiqueOverhead)
	calls := SerializeToolCalls(sc.ToolCalls, remaining)

	// The trace alone may exceed the budget; keep its tail, where the answer is.
	if over := used + utf8.RuneCountInString(calls) + critiqueOverhead - s.MaxChars; over > 0 {
		conversation = trimHead(conversation, over)
	}

	prompt, err := critiquePrompt.Render(map[string]string{
		"user_query":   query,
		"conversation": conversation,
		"tool_calls":   calls,
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
	score := 0.0
	if v.Score != nil {
		score = *v.Score
	}
	return evals.Score{Value: score, Rationale: v.reason()}, nil
}

// SerializeToolCalls renders calls as indented JSON within maxLen runes,
// degrading in steps: full records, records without result payloads, tool
// names with arguments only, and finally a one-line summary.
func SerializeToolCalls(calls []types.ToolCallRecord, maxLen int) string {
	if len(calls) == 0 {
		return "None"
	}

	full := marshalIndent(calls)
	if utf8.RuneCountInString(full) <= maxLen {
		return full
	}

	pruned := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		m := recordMap(c)
		for _, k := range heavyKeys {
			delete(m, k)
		}
		pruned = append(pruned, m)
	}
	if out := marshalIndent(pruned); utf8.RuneCountInString(out) <= maxLen {
		return out
	}

	bare := make([]map[string]any, 0, len(calls))
	for _, c := range calls {
		bare = append(bare, map[string]any{"function": c.ToolName, "args": c.Arguments})
	}
	if out := marshalIndent(bare); utf8.RuneCountInString(out) <= maxLen {
		return out
	}

	return fmt.Sprintf("[Tool calls omitted: %d calls, %d chars over %d limit]",
		len(calls), utf8.RuneCountInString(full), maxLen)
}

func recordMap(c types.ToolCallRecord) map[string]any {
	var m map[string]any
	data, _ := json.Marshal(c)
	_ = json.Unmarshal(data, &m)
	return m
}

func marshalIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func trimHead(s string, n int) string {
	r := []rune(s)
	if n >= len(r) {
		return ""
	}
	return fmt.Sprintf("[... %d chars omitted ...]\n", n) + string(r[n:])
}
