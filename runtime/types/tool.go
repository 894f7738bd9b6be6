package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ToolCallRequest is a tool invocation requested by the model.
// ID is unique within a run.
type ToolCallRequest struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Clone returns a copy that does not share the argument buffer.
func (r ToolCallRequest) Clone() ToolCallRequest {
	if r.Args != nil {
		r.Args = append(json.RawMessage(nil), r.Args...)
	}
	return r
}

// ArgsMap decodes the arguments as a JSON object. Invalid or non-object
// payloads yield an empty map.
func (r ToolCallRequest) ArgsMap() map[string]any {
	out := map[string]any{}
	if len(r.Args) == 0 {
		return out
	}
	if err := json.Unmarshal(r.Args, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// Signature renders the call as name(k="v", ...) with keys sorted.
func (r ToolCallRequest) Signature() string {
	args := r.ArgsMap()
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatArg(args[k])))
	}
	return r.Name + "(" + strings.Join(parts, ", ") + ")"
}

func formatArg(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// ToolCallResult is the outcome of one ToolCallRequest, paired by ID.
// Error is set when the call failed; Err keeps the typed error for
// classification and is not serialized.
type ToolCallResult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Server    string `json:"server,omitempty"`
	Output    string `json:"output"`
	Error     string `json:"error,omitempty"`
	Success   bool   `json:"success"`
	LatencyMs int64  `json:"latency_ms"`
	Err       error  `json:"-"`
}

// NewErrorResult builds a synthetic failed result for a request.
func NewErrorResult(req ToolCallRequest, err error) *ToolCallResult {
	return &ToolCallResult{
		ID:    req.ID,
		Name:  req.Name,
		Error: err.Error(),
		Err:   err,
	}
}

// Failed reports whether the call produced an error.
func (r *ToolCallResult) Failed() bool {
	return r.Error != "" || r.Err != nil
}

// StructuredOutput decodes Output as JSON when possible, otherwise returns it
// as a string.
func (r *ToolCallResult) StructuredOutput() any {
	var v any
	if err := json.Unmarshal([]byte(r.Output), &v); err == nil {
		return v
	}
	return r.Output
}

// ToolSchema describes a tool visible to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Server      string          `json:"server,omitempty"`
}

// ParametersMap decodes the parameter schema, defaulting to an empty object schema.
func (s ToolSchema) ParametersMap() map[string]any {
	out := map[string]any{}
	if err := json.Unmarshal(rawOrEmpty(s.Parameters), &out); err != nil || len(out) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out
}

// Reply is the outcome of one prompt through the run loop.
type Reply struct {
	Content string `json:"content"`

	// Rounds is the number of tool-call rounds executed.
	Rounds int `json:"rounds"`

	// ModelCalls counts completions requested for this prompt.
	ModelCalls int `json:"model_calls"`

	// Suppressed lists tool calls the model requested that were not
	// dispatched because tools were disabled for the run.
	Suppressed []ToolCallRequest `json:"suppressed,omitempty"`

	Usage Usage `json:"usage"`
}
