package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"text/template"
	"time"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/mcp"
	"github.com/danield137/lev/runtime/types"
)

// HandlerFunc implements a local tool. The returned string becomes the tool
// output; an error is reported to the model as a tool failure.
type HandlerFunc func(ctx context.Context, args map[string]any) (string, error)

// LocalServer serves tools implemented in-process. It behaves like a
// connected tool server without spawning one, which keeps suites and tests
// hermetic.
type LocalServer struct {
	name         string
	instructions string
	tools        []mcp.Tool
	handlers     map[string]HandlerFunc
	closed       atomic.Bool
}

// NewLocalServer creates an empty local server.
func NewLocalServer(name, instructions string) *LocalServer {
	return &LocalServer{name: name, instructions: instructions, handlers: make(map[string]HandlerFunc)}
}

// Handle adds a tool backed by fn. A nil schema accepts any object.
func (s *LocalServer) Handle(name, description string, schema json.RawMessage, fn HandlerFunc) *LocalServer {
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	s.tools = append(s.tools, mcp.Tool{Name: name, Description: description, InputSchema: schema})
	s.handlers[name] = fn
	return s
}

// HandleStatic adds a tool that always returns result.
func (s *LocalServer) HandleStatic(name, description string, schema json.RawMessage, result string) *LocalServer {
	return s.Handle(name, description, schema, func(context.Context, map[string]any) (string, error) {
		return result, nil
	})
}

// HandleTemplate adds a tool whose output is a text/template rendered with
// the call arguments. Missing keys render as zero values.
func (s *LocalServer) HandleTemplate(name, description string, schema json.RawMessage, tmpl string) (*LocalServer, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template for tool %s: %w", name, err)
	}
	return s.Handle(name, description, schema, func(_ context.Context, args map[string]any) (string, error) {
		var out bytes.Buffer
		if err := t.Execute(&out, args); err != nil {
			return "", err
		}
		return out.String(), nil
	}), nil
}

// Name implements ToolClient.
func (s *LocalServer) Name() string { return s.name }

// Instructions implements ToolClient.
func (s *LocalServer) Instructions() string { return s.instructions }

// Tools implements ToolClient.
func (s *LocalServer) Tools() []mcp.Tool {
	return append([]mcp.Tool(nil), s.tools...)
}

// CallTool implements ToolClient.
func (s *LocalServer) CallTool(ctx context.Context, req types.ToolCallRequest, timeout time.Duration) (*types.ToolCallResult, error) {
	if s.closed.Load() {
		return nil, &levErrors.ChannelError{Server: s.name, Cause: mcp.ErrClientClosed}
	}
	fn, ok := s.handlers[req.Name]
	if !ok {
		res := types.NewErrorResult(req, &levErrors.ToolCallError{Tool: req.Name, Message: "unknown tool", Cause: ErrToolNotFound})
		res.Server = s.name
		return res, nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := fn(ctx, req.ArgsMap())
	res := &types.ToolCallResult{
		ID:        req.ID,
		Name:      req.Name,
		Server:    s.name,
		Output:    out,
		LatencyMs: time.Since(start).Milliseconds(),
	}

	switch {
	case err == nil:
		res.Success = true
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil:
		return nil, &levErrors.ToolTimeoutError{Tool: req.Name, Timeout: timeout}
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		res.Err = &levErrors.ToolCallError{Tool: req.Name, Message: err.Error()}
		res.Error = res.Err.Error()
	}
	return res, nil
}

// Close implements ToolClient.
func (s *LocalServer) Close() error {
	s.closed.Store(true)
	return nil
}

// LocalToolSpec declares a local tool in a manifest. Exactly one of Result
// or Template should be set; Template wins when both are.
type LocalToolSpec struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	Result      any            `json:"result,omitempty" yaml:"result,omitempty"`
	Template    string         `json:"template,omitempty" yaml:"template,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewLocalServerFromSpecs builds a LocalServer from manifest declarations.
func NewLocalServerFromSpecs(name, instructions string, specs []LocalToolSpec) (*LocalServer, error) {
	s := NewLocalServer(name, instructions)
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("server %q: %w", name, ErrToolNameRequired)
		}
		var schema json.RawMessage
		if spec.InputSchema != nil {
			data, err := json.Marshal(spec.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %s: invalid input_schema: %w", spec.Name, err)
			}
			schema = data
		}

		switch {
		case spec.Error != "":
			msg := spec.Error
			s.Handle(spec.Name, spec.Description, schema, func(context.Context, map[string]any) (string, error) {
				return "", errors.New(msg)
			})
		case spec.Template != "":
			if _, err := s.HandleTemplate(spec.Name, spec.Description, schema, spec.Template); err != nil {
				return nil, err
			}
		default:
			out, err := renderResult(spec.Result)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", spec.Name, err)
			}
			s.HandleStatic(spec.Name, spec.Description, schema, out)
		}
	}
	return s, nil
}

func renderResult(v any) (string, error) {
	switch r := v.(type) {
	case nil:
		return "", nil
	case string:
		return r, nil
	default:
		data, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("invalid result: %w", err)
		}
		return string(data), nil
	}
}
