// Package claude implements providers.Provider on the Anthropic Messages API.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/danield137/lev/pkg/httputil"
	"github.com/danield137/lev/runtime/logger"
	"github.com/danield137/lev/runtime/providers"
	"github.com/danield137/lev/runtime/types"
)

const (
	defaultModel     = anthropicsdk.ModelClaudeSonnet4_5_20250929
	defaultMaxTokens = 4096

	// APIKeyEnv is consulted when the ProviderSpec carries no key.
	APIKeyEnv = "ANTHROPIC_API_KEY"
)

type messagesAPI interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// Provider talks to the Messages API.
type Provider struct {
	id       string
	model    anthropicsdk.Model
	msgs     messagesAPI
	defaults providers.ProviderDefaults
}

// NewProvider builds a provider from spec with SDK retries disabled.
func NewProvider(spec providers.ProviderSpec) (*Provider, error) {
	apiKey := strings.TrimSpace(spec.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(APIKeyEnv))
	}
	if apiKey == "" {
		return nil, errors.New("claude: api key required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(httputil.NewHTTPClient(httputil.DefaultProviderTimeout)),
	}
	if spec.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(spec.BaseURL))
	}
	client := anthropicsdk.NewClient(opts...)

	model := anthropicsdk.Model(strings.TrimSpace(spec.Model))
	if model == "" {
		model = defaultModel
	}
	id := spec.ID
	if id == "" {
		id = "claude"
	}
	return &Provider{id: id, model: model, msgs: &client.Messages, defaults: spec.Defaults}, nil
}

func init() {
	providers.RegisterProviderFactory("claude", func(spec providers.ProviderSpec) (providers.Provider, error) {
		return NewProvider(spec)
	})
}

// ID returns the provider ID.
func (p *Provider) ID() string { return p.id }

// Close is a no-op.
func (p *Provider) Close() error { return nil }

// Complete sends one Messages request.
func (p *Provider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, providers.Malformed(p.id, err)
	}

	logger.LLMCall(ctx, p.id, len(req.Messages), len(req.Tools), "model", string(p.model))
	msg, err := p.msgs.New(ctx, params)
	if err != nil {
		err = p.classify(err)
		logger.LLMError(ctx, p.id, err)
		return nil, err
	}

	out := convertResponse(msg)
	if out.Model == "" {
		out.Model = string(p.model)
	}
	logger.LLMResponse(ctx, p.id, out.Usage.InputTokens, out.Usage.OutputTokens, len(out.ToolCalls))
	return out, nil
}

func (p *Provider) classify(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return providers.ClassifyStatus(p.id, apiErr.StatusCode, err)
	}
	return providers.WrapError(p.id, err)
}

func (p *Provider) buildParams(req *providers.CompletionRequest) (anthropicsdk.MessageNewParams, error) {
	system, rest := providers.SplitSystem(req.Messages)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.defaults.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     p.model,
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(rest),
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}
	temperature := req.Temperature
	if temperature == nil {
		temperature = p.defaults.Temperature
	}
	if temperature != nil {
		params.Temperature = param.NewOpt(*temperature)
	}

	// The API has no way to list tools while forbidding them, so "none"
	// omits them entirely.
	if len(req.Tools) > 0 && req.ToolChoice != providers.ToolChoiceNone {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropicsdk.MessageNewParams{}, err
		}
		params.Tools = tools
		switch req.ToolChoice {
		case providers.ToolChoiceRequired:
			params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{OfAny: &anthropicsdk.ToolChoiceAnyParam{}}
		case providers.ToolChoiceAuto:
			params.ToolChoice = anthropicsdk.ToolChoiceUnionParam{OfAuto: &anthropicsdk.ToolChoiceAutoParam{}}
		}
	}
	return params, nil
}

// convertMessages maps the conversation onto alternating user and assistant
// turns. Consecutive tool results share one user message.
func convertMessages(msgs []types.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	appendUser := func(block anthropicsdk.ContentBlockParamUnion, merge bool) {
		if merge && len(out) > 0 && out[len(out)-1].Role == anthropicsdk.MessageParamRoleUser {
			out[len(out)-1].Content = append(out[len(out)-1].Content, block)
			return
		}
		out = append(out, anthropicsdk.MessageParam{
			Role:    anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{block},
		})
	}

	for _, m := range msgs {
		switch m.Role {
		case types.RoleUser:
			appendUser(anthropicsdk.NewTextBlock(m.Content), false)
		case types.RoleTool:
			content := m.Content
			if content == "" && m.ToolError != "" {
				content = m.ToolError
			}
			appendUser(anthropicsdk.NewToolResultBlock(m.ToolCallID, content, m.ToolError != ""), true)
		case types.RoleAssistant:
			out = append(out, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: assistantContent(m),
			})
		}
	}
	return out
}

func assistantContent(m types.Message) []anthropicsdk.ContentBlockParamUnion {
	blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
	if m.Content != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(m.Content))
	}
	for _, tc := range m.ToolCalls {
		blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, tc.ArgsMap(), tc.Name))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropicsdk.NewTextBlock("."))
	}
	return blocks
}

func convertTools(schemas []types.ToolSchema) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		schema, err := encodeSchema(s.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", s.Name, err)
		}
		tool := anthropicsdk.ToolParam{Name: s.Name, InputSchema: schema}
		if s.Description != "" {
			tool.Description = anthropicsdk.String(s.Description)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func encodeSchema(raw json.RawMessage) (anthropicsdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	var schema anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(raw, &schema); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func convertResponse(msg *anthropicsdk.Message) *providers.Completion {
	out := &providers.Completion{
		Model: string(msg.Model),
		Usage: types.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			args := block.Input
			if len(args) == 0 || string(args) == "null" {
				args = json.RawMessage(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, types.ToolCallRequest{ID: block.ID, Name: block.Name, Args: args})
		case "text":
			text = append(text, block.Text)
		}
	}
	out.Content = strings.Join(text, "")
	return out
}
