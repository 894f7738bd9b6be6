// Package history provides ChatHistory, the append-only message log owned by
// a single agent run.
package history

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danield137/lev/runtime/types"
)

var (
	// ErrDuplicateToolCallID is returned when an assistant message reuses a tool call id.
	ErrDuplicateToolCallID = errors.New("duplicate tool call id")

	// ErrUnknownToolCallID is returned when a tool message answers no issued request.
	ErrUnknownToolCallID = errors.New("tool result for unknown tool call id")

	// ErrDuplicateToolResult is returned when a request is answered twice.
	ErrDuplicateToolResult = errors.New("tool call already has a result")
)

// ChatHistory is an ordered, append-only sequence of messages. Reads return
// copies, so callers can never mutate recorded messages. It is safe for
// concurrent readers; a single run is the only writer.
type ChatHistory struct {
	mu       sync.RWMutex
	messages []types.Message
	issued   map[string]bool // tool call id -> answered
}

// New creates an empty history.
func New() *ChatHistory {
	return &ChatHistory{issued: make(map[string]bool)}
}

// Append adds messages in order. The batch is validated first; on error
// nothing is appended.
func (h *ChatHistory) Append(msgs ...types.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	staged := make(map[string]bool, len(msgs))
	lookup := func(id string) (answered, ok bool) {
		if a, found := staged[id]; found {
			return a, true
		}
		a, found := h.issued[id]
		return a, found
	}

	for _, m := range msgs {
		switch m.Role {
		case types.RoleAssistant:
			for _, c := range m.ToolCalls {
				if _, seen := lookup(c.ID); seen {
					return fmt.Errorf("%w: %s", ErrDuplicateToolCallID, c.ID)
				}
				staged[c.ID] = false
			}
		case types.RoleTool:
			answered, ok := lookup(m.ToolCallID)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownToolCallID, m.ToolCallID)
			}
			if answered {
				return fmt.Errorf("%w: %s", ErrDuplicateToolResult, m.ToolCallID)
			}
			staged[m.ToolCallID] = true
		}
	}

	for id, answered := range staged {
		h.issued[id] = answered
	}
	for _, m := range msgs {
		h.messages = append(h.messages, m.Clone())
	}
	return nil
}

// Len returns the number of messages.
func (h *ChatHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// All returns a copy of every message.
func (h *ChatHistory) All() []types.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return types.CloneMessages(h.messages)
}

// Window returns the last n messages. n <= 0 returns an empty slice.
func (h *ChatHistory) Window(n int) []types.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 {
		return []types.Message{}
	}
	if n > len(h.messages) {
		n = len(h.messages)
	}
	return types.CloneMessages(h.messages[len(h.messages)-n:])
}

// Filter returns copies of the messages matching pred, in order.
func (h *ChatHistory) Filter(pred func(types.Message) bool) []types.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := []types.Message{}
	for _, m := range h.messages {
		if pred(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// ByRole returns the messages with the given role.
func (h *ChatHistory) ByRole(role types.Role) []types.Message {
	return h.Filter(func(m types.Message) bool { return m.Role == role })
}

// Last returns the most recent message with the given role.
func (h *ChatHistory) Last(role types.Role) (types.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.messages) - 1; i >= 0; i-- {
		if h.messages[i].Role == role {
			return h.messages[i].Clone(), true
		}
	}
	return types.Message{}, false
}

// Pending returns the ids of issued tool calls that have no result yet,
// in request order.
func (h *ChatHistory) Pending() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for _, m := range h.messages {
		for _, c := range m.ToolCalls {
			if !h.issued[c.ID] {
				out = append(out, c.ID)
			}
		}
	}
	return out
}

// HasToolCallID reports whether id was already issued in this history.
func (h *ChatHistory) HasToolCallID(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.issued[id]
	return ok
}

// ToolCalls pairs every tool request with its result, in request order.
// Round counts assistant tool-call messages starting at 1.
func (h *ChatHistory) ToolCalls() []types.ToolCallRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	results := make(map[string]types.Message)
	for _, m := range h.messages {
		if m.Role == types.RoleTool {
			results[m.ToolCallID] = m
		}
	}

	var out []types.ToolCallRecord
	round := 0
	for _, m := range h.messages {
		if m.Role != types.RoleAssistant || !m.HasToolCalls() {
			continue
		}
		round++
		for _, c := range m.ToolCalls {
			rec := types.ToolCallRecord{
				Round:     round,
				ID:        c.ID,
				ToolName:  c.Name,
				Arguments: c.ArgsMap(),
			}
			if res, ok := results[c.ID]; ok {
				r := types.ToolCallResult{Output: res.Content}
				rec.Result = r.StructuredOutput()
				rec.Error = res.ToolError
			}
			out = append(out, rec)
		}
	}
	return out
}
