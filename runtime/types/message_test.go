package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallRequest_Signature(t *testing.T) {
	req := ToolCallRequest{
		ID:   "call_1",
		Name: "read_file",
		Args: json.RawMessage(`{"path":"/tmp/a.txt","limit":10}`),
	}

	assert.Equal(t, `read_file(limit=10, path="/tmp/a.txt")`, req.Signature())
}

func TestToolCallRequest_ArgsMap_Invalid(t *testing.T) {
	assert.Empty(t, ToolCallRequest{Args: json.RawMessage(`[1,2]`)}.ArgsMap())
	assert.Empty(t, ToolCallRequest{}.ArgsMap())
}

func TestMessage_CloneDoesNotShareArgs(t *testing.T) {
	orig := NewAssistantMessage("", ToolCallRequest{ID: "1", Name: "x", Args: json.RawMessage(`{"a":1}`)})
	clone := orig.Clone()
	clone.ToolCalls[0].Args[2] = 'b'

	assert.Equal(t, `{"a":1}`, string(orig.ToolCalls[0].Args))
}

func TestNewToolMessage(t *testing.T) {
	ok := NewToolMessage(&ToolCallResult{ID: "1", Name: "add", Output: "4", Success: true})
	assert.Equal(t, RoleTool, ok.Role)
	assert.Equal(t, "1", ok.ToolCallID)
	assert.Equal(t, "4", ok.Content)
	assert.Empty(t, ok.ToolError)

	failed := NewToolMessage(NewErrorResult(ToolCallRequest{ID: "2", Name: "add"}, errors.New("boom")))
	assert.Equal(t, "boom", failed.ToolError)
	assert.Equal(t, "error: boom", failed.Content)
}

func TestToolCallResult_StructuredOutput(t *testing.T) {
	r := &ToolCallResult{Output: `{"sum":4}`}
	assert.Equal(t, map[string]any{"sum": float64(4)}, r.StructuredOutput())

	r = &ToolCallResult{Output: "plain text"}
	assert.Equal(t, "plain text", r.StructuredOutput())
}

func TestToolSchema_ParametersMap(t *testing.T) {
	s := ToolSchema{Name: "noop"}
	assert.Equal(t, "object", s.ParametersMap()["type"])

	s.Parameters = json.RawMessage(`{"type":"object","required":["a"]}`)
	assert.Equal(t, []any{"a"}, s.ParametersMap()["required"])
}

func TestCloneMessages(t *testing.T) {
	assert.Nil(t, CloneMessages(nil))

	msgs := []Message{NewUserMessage("hi")}
	out := CloneMessages(msgs)
	out[0].Content = "changed"
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}
