// Package providers defines the completion capability the agent loop talks to.
//
// A Provider turns a conversation and a set of tool schemas into the model's
// next turn: text, tool call requests, or both. Concrete variants live in
// subpackages and register themselves by type name:
//
//	import _ "github.com/danield137/lev/runtime/providers/all"
//
//	p, err := providers.CreateProviderFromSpec(providers.ProviderSpec{Type: "openai", Model: "gpt-4o"})
//
// Every variant reports failures as *errors.ModelCapabilityError so callers
// can decide whether a fresh attempt is worthwhile.
package providers

import (
	"context"

	"github.com/danield137/lev/runtime/types"
)

// Tool choice values.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// CompletionRequest is one outbound model call.
type CompletionRequest struct {
	Messages    []types.Message    `json:"messages"`
	Tools       []types.ToolSchema `json:"tools,omitempty"`
	ToolChoice  string             `json:"tool_choice,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

// Completion is the model's answer to a CompletionRequest.
type Completion struct {
	Content   string                  `json:"content"`
	ToolCalls []types.ToolCallRequest `json:"tool_calls,omitempty"`
	Usage     types.Usage             `json:"usage"`
	Model     string                  `json:"model,omitempty"`
}

// HasToolCalls reports whether the model asked for tools.
func (c *Completion) HasToolCalls() bool {
	return c != nil && len(c.ToolCalls) > 0
}

// ProviderDefaults holds default parameters for providers
type ProviderDefaults struct {
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// Provider interface defines the contract for completion providers
type Provider interface {
	ID() string
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
	Close() error // Close cleans up provider resources (e.g., HTTP connections)
}

// SplitSystem separates leading system messages from the conversation,
// joining their content with blank lines. APIs that take the system prompt
// out of band use it.
func SplitSystem(msgs []types.Message) (string, []types.Message) {
	var system []string
	rest := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			if m.Content != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return joinNonEmpty(system, "\n\n"), rest
}

func joinNonEmpty(parts []string, sep string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += sep
		}
		out += p
	}
	return out
}
