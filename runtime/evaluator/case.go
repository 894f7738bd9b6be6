package evaluator

import (
	"errors"
	"fmt"
	"time"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/budget"
	"github.com/danield137/lev/runtime/evals"
	"github.com/danield137/lev/runtime/mcp"
	"github.com/danield137/lev/runtime/providers"
	"github.com/danield137/lev/runtime/tools"
)

// EvalCase is one task: a prompt, the tool servers available while
// answering it, how the loop runs and how the result is scored.
type EvalCase struct {
	ID           string             `json:"id" yaml:"id"`
	Prompt       string             `json:"prompt" yaml:"prompt"`
	Servers      []ServerSpec       `json:"servers,omitempty" yaml:"servers,omitempty"`
	Execution    ExecutionConfig    `json:"execution" yaml:"execution"`
	Scorers      []evals.ScorerSpec `json:"scorers,omitempty" yaml:"scorers,omitempty"`
	Expectations map[string]any     `json:"expectations,omitempty" yaml:"expectations,omitempty"`
}

// ServerSpec declares a tool server. A spec with Tools is served in-process;
// otherwise Command is launched and spoken to over MCP stdio.
type ServerSpec struct {
	mcp.ServerConfig `yaml:",inline"`

	// Instructions are used by in-process servers; MCP servers publish
	// their own during the handshake.
	Instructions string                `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Tools        []tools.LocalToolSpec `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Local reports whether the server runs in-process.
func (s ServerSpec) Local() bool { return len(s.Tools) > 0 }

// ExecutionConfig controls one run of the agent loop. Zero values fall back
// to the evaluator defaults.
type ExecutionConfig struct {
	MaxDepth      *int          `json:"max_depth,omitempty" yaml:"max_depth,omitempty"`
	Budget        budget.Budget `json:"budget,omitempty" yaml:"budget,omitempty"`
	ToolChoice    string        `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty"`
	SystemPrompt  string        `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens     int           `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ScorerTimeout time.Duration `json:"scorer_timeout,omitempty" yaml:"scorer_timeout,omitempty"`
	ToolTimeout   time.Duration `json:"tool_timeout,omitempty" yaml:"tool_timeout,omitempty"`
}

// Validate checks the case for structural problems. Scorer kinds are
// checked separately against a registry.
func (c *EvalCase) Validate() error {
	var errs []error
	field := func(name, msg string) {
		errs = append(errs, &levErrors.ConfigError{Field: fmt.Sprintf("cases[%s].%s", c.ID, name), Message: msg})
	}
	if c.ID == "" {
		field("id", "is required")
	}
	if c.Prompt == "" {
		field("prompt", "is required")
	}
	if d := c.Execution.MaxDepth; d != nil && *d < 0 {
		field("execution.max_depth", "must not be negative")
	}
	switch c.Execution.ToolChoice {
	case "", providers.ToolChoiceAuto, providers.ToolChoiceNone, providers.ToolChoiceRequired:
	default:
		field("execution.tool_choice", fmt.Sprintf("unknown value %q", c.Execution.ToolChoice))
	}
	if err := c.Execution.Budget.Validate(); err != nil {
		errs = append(errs, err)
	}

	names := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		switch {
		case s.Name == "":
			field(fmt.Sprintf("servers[%d].name", i), "is required")
		case names[s.Name]:
			field(fmt.Sprintf("servers[%d].name", i), fmt.Sprintf("duplicate server %q", s.Name))
		}
		names[s.Name] = true
		if !s.Local() && s.Command == "" {
			field(fmt.Sprintf("servers[%d]", i), "needs a command or inline tools")
		}
	}
	return errors.Join(errs...)
}
