// Package openai implements providers.Provider on the OpenAI chat
// completions API. Any OpenAI-compatible endpoint works through BaseURL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/danield137/lev/pkg/httputil"
	"github.com/danield137/lev/runtime/logger"
	"github.com/danield137/lev/runtime/providers"
	"github.com/danield137/lev/runtime/types"
)

const (
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 4096

	// APIKeyEnv is consulted when the ProviderSpec carries no key.
	APIKeyEnv = "OPENAI_API_KEY"
)

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Provider talks to the chat completions endpoint.
type Provider struct {
	id          string
	model       string
	completions chatCompletions
	defaults    providers.ProviderDefaults
}

// NewProvider builds a provider from spec. Retries are left to the caller,
// so the SDK's own retry loop is disabled.
func NewProvider(spec providers.ProviderSpec) (*Provider, error) {
	apiKey := strings.TrimSpace(spec.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(APIKeyEnv))
	}
	if apiKey == "" {
		return nil, errors.New("openai: api key required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(httputil.NewHTTPClient(httputil.DefaultProviderTimeout)),
	}
	if spec.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(spec.BaseURL))
	}
	client := openai.NewClient(opts...)

	model := strings.TrimSpace(spec.Model)
	if model == "" {
		model = defaultModel
	}
	id := spec.ID
	if id == "" {
		id = "openai"
	}
	return &Provider{id: id, model: model, completions: &client.Chat.Completions, defaults: spec.Defaults}, nil
}

func init() {
	providers.RegisterProviderFactory("openai", func(spec providers.ProviderSpec) (providers.Provider, error) {
		return NewProvider(spec)
	})
}

// ID returns the provider ID.
func (p *Provider) ID() string { return p.id }

// Close is a no-op; the SDK client holds no resources of its own.
func (p *Provider) Close() error { return nil }

// Complete sends one chat completion request.
func (p *Provider) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, providers.Malformed(p.id, err)
	}

	logger.LLMCall(ctx, p.id, len(req.Messages), len(req.Tools), "model", p.model)
	completion, err := p.completions.New(ctx, params)
	if err != nil {
		err = p.classify(err)
		logger.LLMError(ctx, p.id, err)
		return nil, err
	}

	out, err := convertResponse(completion)
	if err != nil {
		return nil, providers.Malformed(p.id, err)
	}
	if out.Model == "" {
		out.Model = p.model
	}
	logger.LLMResponse(ctx, p.id, out.Usage.InputTokens, out.Usage.OutputTokens, len(out.ToolCalls))
	return out, nil
}

func (p *Provider) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return providers.ClassifyStatus(p.id, apiErr.StatusCode, err)
	}
	return providers.WrapError(p.id, err)
}

func (p *Provider) buildParams(req *providers.CompletionRequest) (openai.ChatCompletionNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.defaults.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(p.model),
		Messages:            convertMessages(req.Messages),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	temperature := req.Temperature
	if temperature == nil {
		temperature = p.defaults.Temperature
	}
	if temperature != nil {
		params.Temperature = openai.Float(*temperature)
	}

	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		if req.ToolChoice != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(req.ToolChoice)}
		}
	}
	return params, nil
}

func convertMessages(msgs []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case types.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case types.RoleAssistant:
			out = append(out, assistantMessage(m))
		case types.RoleTool:
			content := m.Content
			if m.ToolError != "" && content == "" {
				content = "Error: " + m.ToolError
			}
			out = append(out, openai.ToolMessage(content, m.ToolCallID))
		}
	}
	return out
}

func assistantMessage(m types.Message) openai.ChatCompletionMessageParamUnion {
	p := openai.ChatCompletionAssistantMessageParam{}
	if m.Content != "" {
		p.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Content)}
	}
	for _, tc := range m.ToolCalls {
		args := string(tc.Args)
		if args == "" {
			args = "{}"
		}
		p.ToolCalls = append(p.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &p}
}

func convertTools(schemas []types.ToolSchema) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(schemas))
	for _, s := range schemas {
		tool := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       s.Name,
				Parameters: functionParameters(s.ParametersMap()),
			},
		}
		if s.Description != "" {
			tool.Function.Description = openai.Opt(s.Description)
		}
		out = append(out, tool)
	}
	return out
}

func functionParameters(params map[string]any) shared.FunctionParameters {
	result := make(shared.FunctionParameters, len(params)+1)
	for k, v := range params {
		result[k] = v
	}
	if _, ok := result["type"]; !ok {
		result["type"] = "object"
	}
	return result
}

func convertResponse(completion *openai.ChatCompletion) (*providers.Completion, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, errors.New("response has no choices")
	}
	msg := completion.Choices[0].Message
	out := &providers.Completion{
		Content: msg.Content,
		Model:   completion.Model,
		Usage: types.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if !json.Valid(args) {
			return nil, fmt.Errorf("tool call %s has invalid arguments", tc.ID)
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCallRequest{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return out, nil
}
