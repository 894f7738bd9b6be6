package history

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danield137/lev/runtime/types"
)

func call(id, name, args string) types.ToolCallRequest {
	return types.ToolCallRequest{ID: id, Name: name, Args: json.RawMessage(args)}
}

func toolMsg(id, name, server, output string) types.Message {
	return types.NewToolMessage(&types.ToolCallResult{ID: id, Name: name, Server: server, Output: output, Success: true})
}

func TestChatHistory_AppendAndViews(t *testing.T) {
	h := New()
	require.NoError(t, h.Append(
		types.NewSystemMessage("sys"),
		types.NewUserMessage("q1"),
		types.NewAssistantMessage("a1"),
		types.NewUserMessage("q2"),
	))

	assert.Equal(t, 4, h.Len())
	assert.Len(t, h.ByRole(types.RoleUser), 2)

	w := h.Window(2)
	require.Len(t, w, 2)
	assert.Equal(t, "a1", w[0].Content)
	assert.Equal(t, "q2", w[1].Content)
	assert.Len(t, h.Window(10), 4)
	assert.Empty(t, h.Window(0))

	last, ok := h.Last(types.RoleAssistant)
	require.True(t, ok)
	assert.Equal(t, "a1", last.Content)

	_, ok = New().Last(types.RoleUser)
	assert.False(t, ok)
}

func TestChatHistory_ReadsAreCopies(t *testing.T) {
	h := New()
	require.NoError(t, h.Append(types.NewAssistantMessage("", call("1", "x", `{"a":1}`))))

	all := h.All()
	all[0].Content = "mutated"
	all[0].ToolCalls[0].Name = "y"

	again := h.All()
	assert.Empty(t, again[0].Content)
	assert.Equal(t, "x", again[0].ToolCalls[0].Name)
}

func TestChatHistory_RejectsDuplicateToolCallID(t *testing.T) {
	h := New()
	require.NoError(t, h.Append(types.NewAssistantMessage("", call("c1", "x", `{}`))))
	require.NoError(t, h.Append(toolMsg("c1", "x", "s", "ok")))

	err := h.Append(types.NewAssistantMessage("", call("c1", "x", `{}`)))
	assert.ErrorIs(t, err, ErrDuplicateToolCallID)
	assert.Equal(t, 2, h.Len())

	err = h.Append(types.NewAssistantMessage("", call("c2", "x", `{}`), call("c2", "y", `{}`)))
	assert.ErrorIs(t, err, ErrDuplicateToolCallID)
	assert.Equal(t, 2, h.Len())
}

func TestChatHistory_ToolResultValidation(t *testing.T) {
	h := New()
	assert.ErrorIs(t, h.Append(toolMsg("nope", "x", "s", "")), ErrUnknownToolCallID)

	require.NoError(t, h.Append(types.NewAssistantMessage("", call("c1", "x", `{}`), call("c2", "x", `{}`))))
	assert.Equal(t, []string{"c1", "c2"}, h.Pending())

	require.NoError(t, h.Append(toolMsg("c1", "x", "s", "one")))
	assert.Equal(t, []string{"c2"}, h.Pending())
	assert.ErrorIs(t, h.Append(toolMsg("c1", "x", "s", "again")), ErrDuplicateToolResult)

	require.NoError(t, h.Append(toolMsg("c2", "x", "s", "two")))
	assert.Empty(t, h.Pending())
	assert.True(t, h.HasToolCallID("c2"))
}

func TestChatHistory_BatchIsAtomic(t *testing.T) {
	h := New()
	err := h.Append(
		types.NewAssistantMessage("", call("c1", "x", `{}`)),
		toolMsg("c1", "x", "s", "ok"),
		toolMsg("c9", "x", "s", "bad"),
	)
	require.Error(t, err)
	assert.Zero(t, h.Len())
	assert.False(t, h.HasToolCallID("c1"))
}

func TestChatHistory_ToolCalls(t *testing.T) {
	h := New()
	require.NoError(t, h.Append(
		types.NewUserMessage("sum"),
		types.NewAssistantMessage("", call("c1", "add", `{"a":2,"b":2}`)),
		toolMsg("c1", "add", "calc", `{"sum":4}`),
		types.NewAssistantMessage("", call("c2", "echo", `{"text":"hi"}`)),
		types.NewToolMessage(types.NewErrorResult(call("c2", "echo", `{}`), assert.AnError)),
		types.NewAssistantMessage("4"),
	))

	records := h.ToolCalls()
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Round)
	assert.Equal(t, "add", records[0].ToolName)
	assert.Equal(t, map[string]any{"a": float64(2), "b": float64(2)}, records[0].Arguments)
	assert.Equal(t, map[string]any{"sum": float64(4)}, records[0].Result)
	assert.Equal(t, 2, records[1].Round)
	assert.NotEmpty(t, records[1].Error)
}

func TestChatHistory_ConcurrentReaders(t *testing.T) {
	h := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = h.All()
				_ = h.Len()
			}
		}()
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, h.Append(types.NewUserMessage("m")))
	}
	wg.Wait()
	assert.Equal(t, 50, h.Len())
}

func TestChatHistory_RenderTrace(t *testing.T) {
	h := New()
	long := strings.Repeat("word ", 40)
	require.NoError(t, h.Append(
		types.NewSystemMessage("hidden"),
		types.NewUserMessage("What is 2+2?"),
		types.NewAssistantMessage("", call("c1", "add", `{"a":"2","b":"2"}`), call("c2", "dump", `{}`)),
		toolMsg("c1", "add", "calc", "4"),
		toolMsg("c2", "dump", "calc", long),
		types.NewAssistantMessage("The answer is 4."),
	))

	trace := h.RenderTrace(0)
	lines := strings.Split(trace, "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "USER      → What is 2+2?", lines[0])
	assert.Equal(t, `ASSISTANT → [tool_call:calc.add](a="2", b="2")`, lines[1])
	assert.Equal(t, `          [tool_call:calc.dump]()`, lines[2])
	assert.Equal(t, "          ← 4", lines[3])
	assert.True(t, strings.HasPrefix(lines[4], "          ← word"))
	assert.Contains(t, lines[4], "... (20 tokens excluded)")
	assert.Equal(t, "          💬 The answer is 4.", lines[5])
	assert.NotContains(t, trace, "hidden")
}

func TestChatHistory_RenderTrace_PlainAnswer(t *testing.T) {
	h := New()
	require.NoError(t, h.Append(types.NewUserMessage("hi"), types.NewAssistantMessage("hello")))

	assert.Equal(t, "USER      → hi\nASSISTANT 💬 hello", h.RenderTrace(DefaultPreviewLen))
}
