// Package agent runs the reason-act loop: a conversation with a model that
// may request tools, dispatched through a tool registry, until the model
// answers in plain text.
//
// A Host owns the history of one run. Its lifecycle is
//
//	INIT -> AWAITING_MODEL -> (TOOLS_PENDING -> AWAITING_MODEL)* -> DONE | FAILED
//
// The host never retries a failed model call; the evaluator decides whether a
// fresh run is worthwhile.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/budget"
	"github.com/danield137/lev/runtime/history"
	"github.com/danield137/lev/runtime/hooks"
	"github.com/danield137/lev/runtime/logger"
	"github.com/danield137/lev/runtime/metrics/prometheus"
	"github.com/danield137/lev/runtime/providers"
	"github.com/danield137/lev/runtime/telemetry"
	"github.com/danield137/lev/runtime/tools"
	"github.com/danield137/lev/runtime/types"
)

// Host states.
const (
	StateInit          = "INIT"
	StateAwaitingModel = "AWAITING_MODEL"
	StateToolsPending  = "TOOLS_PENDING"
	StateDone          = "DONE"
	StateFailed        = "FAILED"
)

var (
	// ErrHostFailed is returned by Prompt once the host has failed.
	ErrHostFailed = errors.New("agent host has failed")

	// ErrPromptInProgress is returned when Prompt is called concurrently.
	ErrPromptInProgress = errors.New("prompt already in progress")

	// ErrProviderRequired is returned by New without a provider.
	ErrProviderRequired = errors.New("provider is required")
)

// Host drives one run. Prompt must not be called concurrently; the accessors
// are safe from any goroutine, including hooks.
type Host struct {
	provider providers.Provider
	registry *tools.Registry
	history  *history.ChatHistory

	systemPrompt string
	budget       *budget.Policy
	maxDepth     int
	bus          *hooks.Bus
	toolChoice   string
	newID        func() string
	temperature  *float64
	maxTokens    int
	limiter      *rate.Limiter
	tracer       trace.Tracer

	mu      sync.RWMutex
	state   string
	err     error
	started bool
	runCtx  map[string]any
}

// New creates a host. A nil registry runs without tools.
func New(provider providers.Provider, registry *tools.Registry, opts ...Option) (*Host, error) {
	if provider == nil {
		return nil, ErrProviderRequired
	}
	h := &Host{
		provider:     provider,
		registry:     registry,
		history:      history.New(),
		systemPrompt: DefaultSystemPrompt,
		maxDepth:     DefaultMaxDepth,
		newID:        func() string { return "call_" + uuid.NewString() },
		tracer:       telemetry.Tracer(nil),
		state:        StateInit,
		runCtx:       make(map[string]any),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// State returns the current lifecycle state.
func (h *Host) State() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Err returns the error that failed the host, if any.
func (h *Host) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// History returns the run's history.
func (h *Host) History() *history.ChatHistory { return h.history }

// Context returns the per-run map shared with hooks.
func (h *Host) Context() map[string]any { return h.runCtx }

// MaxDepth returns the configured tool round limit.
func (h *Host) MaxDepth() int { return h.maxDepth }

func (h *Host) setState(s string) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// begin moves a ready host into AWAITING_MODEL.
func (h *Host) begin() (first bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case StateFailed:
		return false, ErrHostFailed
	case StateAwaitingModel, StateToolsPending:
		return false, ErrPromptInProgress
	}
	first = !h.started
	h.started = true
	h.state = StateAwaitingModel
	return first, nil
}

// Prompt sends text as a user message and runs the loop until the model
// answers without tool calls or the run fails. post_prompt fires exactly
// once per call that gets past the state check.
func (h *Host) Prompt(ctx context.Context, text string) (reply *types.Reply, err error) {
	first, err := h.begin()
	if err != nil {
		return nil, err
	}

	fields := logger.ExtractLoggingFields(ctx)
	ctx, span := telemetry.StartPrompt(ctx, h.tracer, fields.CaseID, fields.RunID)
	defer func() {
		if err != nil {
			h.mu.Lock()
			h.state = StateFailed
			h.err = err
			h.mu.Unlock()
			reply = nil
			logger.WarnContext(ctx, "Prompt failed", "error", err, "kind", levErrors.KindOf(err))
		} else {
			h.setState(StateDone)
		}
		var rounds int
		if reply != nil {
			rounds = reply.Rounds
		}
		telemetry.End(span, err, attribute.Int("loop.rounds", rounds))
		h.bus.Fire(ctx, &hooks.Event{Name: hooks.PostPrompt, Host: h, Reply: reply, Context: h.runCtx})
	}()

	if first {
		if sys := h.composeSystemPrompt(); sys != "" {
			if err := h.history.Append(types.NewSystemMessage(sys)); err != nil {
				return nil, err
			}
		}
	}
	if err := h.history.Append(types.NewUserMessage(text)); err != nil {
		return nil, err
	}

	reply = &types.Reply{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgs, err := h.applyBudget(h.history.All())
		if err != nil {
			return nil, err
		}

		h.bus.Fire(ctx, &hooks.Event{Name: hooks.PrePrompt, Host: h, Context: h.runCtx})

		var schemas []types.ToolSchema
		if h.maxDepth > 0 && h.registry != nil {
			schemas = h.registry.Schemas()
		}
		completion, err := h.complete(ctx, msgs, schemas, reply.ModelCalls+1)
		if err != nil {
			return nil, err
		}
		reply.ModelCalls++
		reply.Usage.Add(completion.Usage)

		if !completion.HasToolCalls() {
			if err := h.history.Append(types.NewAssistantMessage(completion.Content)); err != nil {
				return nil, err
			}
			reply.Content = completion.Content
			return reply, nil
		}

		if h.maxDepth == 0 {
			if err := h.history.Append(types.NewAssistantMessage(completion.Content)); err != nil {
				return nil, err
			}
			reply.Content = completion.Content
			reply.Suppressed = completion.ToolCalls
			logger.DebugContext(ctx, "Tool calls suppressed at depth 0", "calls", len(completion.ToolCalls))
			return reply, nil
		}

		if reply.Rounds >= h.maxDepth {
			return nil, &levErrors.DepthLimitExceeded{Limit: h.maxDepth}
		}

		if err := h.runRound(ctx, completion, reply.Rounds+1); err != nil {
			return nil, err
		}
		reply.Rounds++
		h.setState(StateAwaitingModel)
	}
}

func (h *Host) composeSystemPrompt() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(h.systemPrompt))
	if h.registry != nil {
		for _, in := range h.registry.Instructions() {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "# %s instructions\n%s", in.Server, strings.TrimSpace(in.Text))
		}
	}
	return b.String()
}

func (h *Host) applyBudget(msgs []types.Message) ([]types.Message, error) {
	if h.budget == nil {
		return msgs, nil
	}
	b := h.budget.Budget()
	over := b.MaxSize > 0 && h.budget.Size(msgs) > b.MaxSize
	out, err := h.budget.Apply(msgs)
	if over {
		prometheus.RecordBudgetReaction(string(b.Reaction), prometheus.StatusOf(err))
	}
	return out, err
}

func (h *Host) complete(ctx context.Context, msgs []types.Message, schemas []types.ToolSchema, call int) (*providers.Completion, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req := &providers.CompletionRequest{
		Messages:    msgs,
		Tools:       schemas,
		Temperature: h.temperature,
		MaxTokens:   h.maxTokens,
	}
	if len(schemas) > 0 {
		req.ToolChoice = h.toolChoice
	}

	id := h.provider.ID()
	mctx, span := telemetry.StartModelCall(ctx, h.tracer, id, call, len(msgs), len(schemas))
	start := time.Now()
	completion, err := h.provider.Complete(mctx, req)
	prometheus.RecordProviderRequest(id, prometheus.StatusOf(err), time.Since(start).Seconds())

	switch {
	case err != nil:
		if ctx.Err() == nil {
			err = providers.WrapError(id, err)
		}
	case completion == nil:
		err = providers.Malformed(id, errors.New("provider returned no completion"))
	default:
		prometheus.RecordProviderTokens(id, completion.Usage.InputTokens, completion.Usage.OutputTokens)
	}

	var in, out int
	if completion != nil {
		in, out = completion.Usage.InputTokens, completion.Usage.OutputTokens
	}
	telemetry.End(span, err,
		attribute.Int("gen_ai.usage.input_tokens", in),
		attribute.Int("gen_ai.usage.output_tokens", out),
	)
	if err != nil {
		return nil, err
	}
	return completion, nil
}

// runRound records the assistant request, dispatches the calls concurrently
// and appends their results in request order.
func (h *Host) runRound(ctx context.Context, completion *providers.Completion, round int) error {
	calls, rejected := h.assignIDs(completion.ToolCalls)
	if err := h.history.Append(types.NewAssistantMessage(completion.Content, calls...)); err != nil {
		return err
	}
	h.setState(StateToolsPending)

	results := make([]*types.ToolCallResult, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		if reason, ok := rejected[i]; ok {
			results[i] = types.NewErrorResult(call, &levErrors.ToolCallError{Tool: call.Name, Message: reason})
			continue
		}
		g.Go(func() error {
			results[i] = h.dispatch(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	msgs := make([]types.Message, len(results))
	for i, res := range results {
		msgs[i] = types.NewToolMessage(res)
	}
	if err := h.history.Append(msgs...); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	for i, res := range results {
		if _, skip := rejected[i]; skip || !res.Failed() {
			continue
		}
		if h.registry != nil && h.registry.IsRunFatal(res.Name) {
			logger.WarnContext(ctx, "Run-fatal tool failed", "tool", res.Name, "server", res.Server, "round", round)
			if res.Err != nil {
				return res.Err
			}
			return &levErrors.ToolCallError{Tool: res.Name, Message: res.Error}
		}
	}
	return nil
}

// assignIDs fills missing ids and replaces ids already used in this run. The
// returned map holds the positions that must not be dispatched.
func (h *Host) assignIDs(requested []types.ToolCallRequest) ([]types.ToolCallRequest, map[int]string) {
	calls := make([]types.ToolCallRequest, len(requested))
	rejected := make(map[int]string)
	seen := make(map[string]bool, len(requested))
	for i, r := range requested {
		c := r.Clone()
		switch {
		case c.ID == "":
			c.ID = h.newID()
		case seen[c.ID] || h.history.HasToolCallID(c.ID):
			rejected[i] = fmt.Sprintf("duplicate tool call id %q rejected", c.ID)
			c.ID = h.newID()
		}
		seen[c.ID] = true
		calls[i] = c
	}
	return calls, rejected
}

func (h *Host) dispatch(ctx context.Context, call types.ToolCallRequest) *types.ToolCallResult {
	tctx, span := telemetry.StartToolCall(ctx, h.tracer, call.Name, call.ID)
	var res *types.ToolCallResult
	if h.registry == nil {
		res = types.NewErrorResult(call, &levErrors.ToolCallError{Tool: call.Name, Message: "unknown tool", Cause: tools.ErrToolNotFound})
	} else {
		res = h.registry.Dispatch(tctx, call)
	}
	telemetry.End(span, res.Err, attribute.String("tool.server", res.Server), attribute.Int64("tool.latency_ms", res.LatencyMs))
	return res
}
