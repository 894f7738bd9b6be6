// Package mock provides a scripted completion provider.
//
// The provider answers from a ResponseRepository keyed by eval case and turn
// number, so suites can run end to end without network access and replay
// identically. The turn number is derived from the conversation itself, which
// keeps the provider stateless across concurrent runs.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/logger"
	"github.com/danield137/lev/runtime/providers"
	"github.com/danield137/lev/runtime/tokenizer"
	"github.com/danield137/lev/runtime/types"
)

// Provider is a scripted providers.Provider.
type Provider struct {
	id         string
	model      string
	repository ResponseRepository
	counter    tokenizer.TokenCounter

	mu       sync.Mutex
	requests []providers.CompletionRequest
}

// NewProvider creates a provider that always answers with a fixed message
// until a repository is supplied.
func NewProvider(id, model string) *Provider {
	return NewProviderWithRepository(id, model, NewInMemoryRepository(fmt.Sprintf("Mock response from %s model %s", id, model)))
}

// NewProviderWithRepository creates a provider backed by repo.
func NewProviderWithRepository(id, model string, repo ResponseRepository) *Provider {
	return &Provider{
		id:         id,
		model:      model,
		repository: repo,
		counter:    tokenizer.NewHeuristicTokenCounter(tokenizer.GetModelFamily(model)),
	}
}

func init() {
	providers.RegisterProviderFactory("mock", func(spec providers.ProviderSpec) (providers.Provider, error) {
		if repo, ok := spec.AdditionalConfig["repository"].(ResponseRepository); ok {
			return NewProviderWithRepository(spec.ID, spec.Model, repo), nil
		}
		if path, ok := spec.AdditionalConfig["mock_config"].(string); ok && path != "" {
			repo, err := NewFileRepository(path)
			if err != nil {
				return nil, err
			}
			return NewProviderWithRepository(spec.ID, spec.Model, repo), nil
		}
		return NewProvider(spec.ID, spec.Model), nil
	})
}

// ID returns the provider ID.
func (p *Provider) ID() string { return p.id }

// Complete plays the scripted turn for the current case and conversation.
func (p *Provider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.requests = append(p.requests, cloneRequest(req))
	p.mu.Unlock()

	params := ResponseParams{
		CaseID:     logger.ExtractLoggingFields(ctx).CaseID,
		TurnNumber: TurnNumber(req.Messages),
		ProviderID: p.id,
		ModelName:  p.model,
	}
	turn, err := p.repository.GetTurn(ctx, params)
	if err != nil {
		return nil, providers.WrapError(p.id, err)
	}
	if turn == nil {
		turn = &Turn{Content: fmt.Sprintf("Mock response from %s model %s", p.id, p.model)}
	}
	if turn.Error != "" {
		return nil, p.turnError(turn)
	}

	completion := &providers.Completion{Content: turn.Content, Model: p.model}
	for i, tc := range turn.ToolCalls {
		args, err := json.Marshal(tc.Arguments)
		if err != nil {
			return nil, providers.Malformed(p.id, err)
		}
		if tc.Arguments == nil {
			args = json.RawMessage(`{}`)
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", params.TurnNumber, i+1)
		}
		completion.ToolCalls = append(completion.ToolCalls, types.ToolCallRequest{ID: id, Name: tc.Name, Args: args})
	}

	completion.Usage = types.Usage{
		InputTokens:  p.inputTokens(req.Messages),
		OutputTokens: p.counter.CountTokens(turn.Content),
	}

	logger.DebugContext(ctx, "Mock provider answered",
		"provider", p.id,
		"turn", params.TurnNumber,
		"tool_calls", len(completion.ToolCalls))
	return completion, nil
}

func (p *Provider) turnError(turn *Turn) error {
	reason := levErrors.ModelCapabilityReason(turn.ErrorReason)
	if reason == "" {
		reason = levErrors.ReasonUnknown
	}
	return &levErrors.ModelCapabilityError{
		Provider:  p.id,
		Reason:    reason,
		Retryable: reason == levErrors.ReasonRateLimit || reason == levErrors.ReasonTransport,
		Cause:     errors.New(turn.Error),
	}
}

func (p *Provider) inputTokens(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += p.counter.CountTokens(m.Content)
	}
	return total
}

// Requests returns copies of every request seen so far.
func (p *Provider) Requests() []providers.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]providers.CompletionRequest(nil), p.requests...)
}

// Calls returns the number of Complete calls.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }

// TurnNumber is one more than the number of assistant messages in msgs.
func TurnNumber(msgs []types.Message) int {
	n := 1
	for _, m := range msgs {
		if m.Role == types.RoleAssistant {
			n++
		}
	}
	return n
}

func cloneRequest(req *providers.CompletionRequest) providers.CompletionRequest {
	c := *req
	c.Messages = types.CloneMessages(req.Messages)
	c.Tools = append([]types.ToolSchema(nil), req.Tools...)
	return c
}

// FuncProvider adapts a function to providers.Provider.
type FuncProvider struct {
	Name string
	Fn   func(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error)
}

// ID implements providers.Provider.
func (f *FuncProvider) ID() string { return f.Name }

// Complete implements providers.Provider.
func (f *FuncProvider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error) {
	return f.Fn(ctx, req)
}

// Close implements providers.Provider.
func (f *FuncProvider) Close() error { return nil }
