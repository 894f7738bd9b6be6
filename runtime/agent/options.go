package agent

import (
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/danield137/lev/runtime/budget"
	"github.com/danield137/lev/runtime/hooks"
)

// DefaultMaxDepth is the number of tool rounds allowed per prompt when none
// is configured.
const DefaultMaxDepth = 8

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = `You are a helpful AI assistant with access to external tools via MCP servers.
You can interact with various tools and services depending on what MCP servers are available.

Use the available tools to help users accomplish their tasks effectively.`

// Option configures a Host.
type Option func(*Host)

// WithSystemPrompt sets the base system prompt. Server instructions are
// appended to it on the first prompt.
func WithSystemPrompt(prompt string) Option {
	return func(h *Host) { h.systemPrompt = prompt }
}

// WithBudget applies a context budget before every model call.
func WithBudget(p *budget.Policy) Option {
	return func(h *Host) { h.budget = p }
}

// WithMaxDepth limits tool rounds per prompt. Zero disables tools entirely;
// negative values are ignored.
func WithMaxDepth(n int) Option {
	return func(h *Host) {
		if n >= 0 {
			h.maxDepth = n
		}
	}
}

// WithHooks sets the bus that receives pre_prompt and post_prompt.
func WithHooks(bus *hooks.Bus) Option {
	return func(h *Host) { h.bus = bus }
}

// WithToolChoice sets the tool choice sent with every model call that lists
// tools: auto, none or required.
func WithToolChoice(choice string) Option {
	return func(h *Host) { h.toolChoice = choice }
}

// WithIDGenerator replaces the generator used for tool calls that arrive
// without an id, and for duplicate ids.
func WithIDGenerator(gen func() string) Option {
	return func(h *Host) {
		if gen != nil {
			h.newID = gen
		}
	}
}

// WithTemperature sets the sampling temperature for model calls.
func WithTemperature(t float64) Option {
	return func(h *Host) { h.temperature = &t }
}

// WithMaxTokens caps the completion length of model calls.
func WithMaxTokens(n int) Option {
	return func(h *Host) { h.maxTokens = n }
}

// WithRateLimiter makes every model call wait on limiter first.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(h *Host) { h.limiter = limiter }
}

// WithTracer sets the tracer for prompt, model and tool spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Host) {
		if tracer != nil {
			h.tracer = tracer
		}
	}
}

// WithRunContext seeds the per-run map handed to hooks.
func WithRunContext(values map[string]any) Option {
	return func(h *Host) {
		for k, v := range values {
			h.runCtx[k] = v
		}
	}
}
