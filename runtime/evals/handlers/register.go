package handlers

import "github.com/danield137/lev/runtime/evals"

// Built-in scorer kinds.
const (
	KindLLM            = "llm"
	KindContainsString = "contains_string"
	KindToolCallCount  = "tool_call_count"
	KindToolCallInput  = "tool_call_input"
	KindToolCallOutput = "tool_call_output"
	KindLLMCritique    = "llm_critique"
	KindLLMExtract     = "llm_extract"
)

//nolint:gochecknoinits // init registers handlers to avoid circular imports
func init() {
	// Deterministic
	evals.RegisterDefault(KindContainsString, NewContainsString)
	evals.RegisterDefault(KindToolCallCount, NewToolCallCount)
	evals.RegisterDefault(KindToolCallInput, NewToolCallInput)
	evals.RegisterDefault(KindToolCallOutput, NewToolCallOutput)

	// Judge-backed
	evals.RegisterDefault(KindLLM, NewLLMJudge)
	evals.RegisterDefault(KindLLMCritique, NewLLMCritique)
	evals.RegisterDefault(KindLLMExtract, NewLLMExtract)
}
