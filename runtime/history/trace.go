package history

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/danield137/lev/runtime/types"
)

const (
	// DefaultPreviewLen bounds tool result previews in RenderTrace.
	DefaultPreviewLen = 100

	traceIndent = "          "
)

// RenderTrace renders the conversation as a console trace:
//
//	USER      → What is 2+2?
//	ASSISTANT → [tool_call:calc.add](a="2", b="2")
//	          ← 4
//	          💬 The answer is 4.
//
// System messages are skipped. Tool previews longer than previewLen runes are
// cut and suffixed with the number of dropped words.
func (h *ChatHistory) RenderTrace(previewLen int) string {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLen
	}
	msgs := h.All()

	servers := make(map[string]string)
	for _, m := range msgs {
		if m.Role == types.RoleTool && m.ToolServer != "" {
			servers[m.ToolCallID] = m.ToolServer
		}
	}

	var lines []string
	inBlock := false
	for _, m := range msgs {
		switch m.Role {
		case types.RoleUser:
			lines = append(lines, "USER      → "+m.Content)
			inBlock = false
		case types.RoleAssistant:
			for _, c := range m.ToolCalls {
				server := servers[c.ID]
				if server == "" {
					server = "unknown"
				}
				prefix := "ASSISTANT → "
				if inBlock {
					prefix = traceIndent
				}
				lines = append(lines, fmt.Sprintf("%s[tool_call:%s.%s](%s)", prefix, server, c.Name, traceArgs(c)))
				inBlock = true
			}
			if m.Content != "" {
				if inBlock {
					lines = append(lines, traceIndent+"💬 "+m.Content)
				} else {
					lines = append(lines, "ASSISTANT 💬 "+m.Content)
				}
				inBlock = false
			}
		case types.RoleTool:
			lines = append(lines, traceIndent+"← "+preview(m.Content, previewLen))
		}
	}
	return strings.Join(lines, "\n")
}

func traceArgs(c types.ToolCallRequest) string {
	sig := c.Signature()
	// Signature is name(args); keep only the argument list.
	return strings.TrimSuffix(strings.TrimPrefix(sig, c.Name+"("), ")")
}

func preview(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	trimmed := string([]rune(s)[:limit])
	dropped := len(strings.Fields(s)) - len(strings.Fields(trimmed))
	return fmt.Sprintf("%s... (%d tokens excluded)", trimmed, dropped)
}
