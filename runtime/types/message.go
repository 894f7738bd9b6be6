// Package types holds the data model shared by the run loop, the tool layer
// and the scorers: messages, tool call requests and results, and tool schemas.
package types

import (
	"encoding/json"
)

// Role identifies the author of a Message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a single entry in a conversation. Messages are values;
// once appended to a history they are never modified in place.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCallID pairs a tool message with the request that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName is set on tool messages for rendering and budget signatures.
	ToolName string `json:"tool_name,omitempty"`

	// ToolServer is the server that answered a tool message.
	ToolServer string `json:"tool_server,omitempty"`

	// ToolCalls are the requests carried by an assistant message.
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`

	// ToolError holds the error text when the tool call failed.
	ToolError string `json:"tool_error,omitempty"`

	// Omitted is true when the budget policy replaced the tool result body
	// with the call signature.
	Omitted bool `json:"omitted,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message, optionally carrying tool calls.
func NewAssistantMessage(content string, calls ...ToolCallRequest) Message {
	m := Message{Role: RoleAssistant, Content: content}
	if len(calls) > 0 {
		m.ToolCalls = append([]ToolCallRequest(nil), calls...)
	}
	return m
}

// NewToolMessage creates the tool message that answers a request.
func NewToolMessage(result *ToolCallResult) Message {
	m := Message{
		Role:       RoleTool,
		Content:    result.Output,
		ToolCallID: result.ID,
		ToolName:   result.Name,
		ToolServer: result.Server,
	}
	if result.Error != "" {
		m.ToolError = result.Error
		if m.Content == "" {
			m.Content = "error: " + result.Error
		}
	}
	return m
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if len(m.ToolCalls) > 0 {
		calls := make([]ToolCallRequest, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			calls[i] = c.Clone()
		}
		m.ToolCalls = calls
	}
	return m
}

// HasToolCalls reports whether an assistant message requested tools.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Usage reports token consumption of one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage value.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// rawOrEmpty returns "{}" for empty argument payloads.
func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
