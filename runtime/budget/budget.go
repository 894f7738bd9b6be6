// Package budget shrinks a conversation to fit a configured context size
// before it is sent to the model.
//
// The policy is deterministic: the same messages and budget always yield the
// same output. Model-driven summarization is intentionally not offered.
package budget

import (
	"fmt"
	"strings"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/tokenizer"
	"github.com/danield137/lev/runtime/types"
)

// Reaction selects what happens when the conversation is over budget.
type Reaction string

// Supported reactions.
const (
	// OmitParts replaces old tool result bodies with the call signature.
	OmitParts Reaction = "omit_parts"

	// Truncate drops the oldest non-system messages.
	Truncate Reaction = "truncate"

	// Reject fails the model call.
	Reject Reaction = "reject"
)

// OmittedPrefix marks a tool result whose body was replaced.
const OmittedPrefix = "[omitted] "

// Budget is the configured limit. MaxSize <= 0 disables the check.
type Budget struct {
	MaxSize  int      `json:"max_size" yaml:"max_size"`
	Reaction Reaction `json:"reaction" yaml:"reaction"`
	Unit     string   `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Validate checks the reaction and unit.
func (b Budget) Validate() error {
	switch b.Reaction {
	case "", OmitParts, Truncate, Reject:
	default:
		return &levErrors.ConfigError{Field: "budget.reaction", Message: fmt.Sprintf("unknown reaction %q", b.Reaction)}
	}
	if _, err := tokenizer.NewCounter(b.Unit, ""); err != nil {
		return &levErrors.ConfigError{Field: "budget.unit", Message: err.Error()}
	}
	return nil
}

// Policy applies a Budget.
type Policy struct {
	budget  Budget
	counter tokenizer.TokenCounter
}

// NewPolicy creates a policy. A nil counter measures characters. An empty
// reaction defaults to OmitParts.
func NewPolicy(b Budget, counter tokenizer.TokenCounter) *Policy {
	if counter == nil {
		counter = tokenizer.CharCounter{}
	}
	if b.Reaction == "" {
		b.Reaction = OmitParts
	}
	return &Policy{budget: b, counter: counter}
}

// Budget returns the configured budget.
func (p *Policy) Budget() Budget {
	return p.budget
}

// Serialize renders the part of a message that counts against the budget.
func Serialize(m types.Message) string {
	var sb strings.Builder
	sb.WriteString(string(m.Role))
	sb.WriteString(": ")
	sb.WriteString(m.Content)
	for _, c := range m.ToolCalls {
		sb.WriteString(" ")
		sb.WriteString(c.Name)
		sb.Write(c.Args)
	}
	return sb.String()
}

// Size returns the serialized size of msgs.
func (p *Policy) Size(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += p.counter.CountTokens(Serialize(m))
	}
	return total
}

// Apply returns msgs shrunk to fit the budget. The input slice is never
// modified. When the budget cannot be met a *errors.BudgetExceededError is
// returned.
func (p *Policy) Apply(msgs []types.Message) ([]types.Message, error) {
	out := types.CloneMessages(msgs)
	if p == nil || p.budget.MaxSize <= 0 {
		return out, nil
	}

	size := p.Size(out)
	if size <= p.budget.MaxSize {
		return out, nil
	}

	switch p.budget.Reaction {
	case Reject:
		return nil, p.exceeded(size)
	case Truncate:
		return p.truncate(out)
	default:
		return p.omitParts(out)
	}
}

func (p *Policy) exceeded(size int) error {
	return &levErrors.BudgetExceededError{Size: size, MaxSize: p.budget.MaxSize, Reaction: string(p.budget.Reaction)}
}

// omitParts replaces tool result bodies oldest first.
func (p *Policy) omitParts(msgs []types.Message) ([]types.Message, error) {
	requests := make(map[string]types.ToolCallRequest)
	for _, m := range msgs {
		for _, c := range m.ToolCalls {
			requests[c.ID] = c
		}
	}

	size := p.Size(msgs)
	for i := range msgs {
		if size <= p.budget.MaxSize {
			return msgs, nil
		}
		m := msgs[i]
		if m.Role != types.RoleTool || m.Omitted {
			continue
		}

		req, ok := requests[m.ToolCallID]
		if !ok {
			req = types.ToolCallRequest{ID: m.ToolCallID, Name: m.ToolName}
		}
		replaced := m
		replaced.Content = OmittedPrefix + req.Signature()
		replaced.Omitted = true

		before := p.counter.CountTokens(Serialize(m))
		after := p.counter.CountTokens(Serialize(replaced))
		if after >= before {
			continue
		}
		msgs[i] = replaced
		size += after - before
	}

	if size > p.budget.MaxSize {
		return nil, p.exceeded(size)
	}
	return msgs, nil
}

// truncate drops the oldest non-system messages. An assistant message is
// dropped together with the tool results answering it. The latest user
// message and the latest assistant turn, with its results, are never dropped,
// so tool rounds after the prompt go oldest first.
func (p *Policy) truncate(msgs []types.Message) ([]types.Message, error) {
	keep := latestTurn(msgs)
	dropped := make([]bool, len(msgs))
	droppedIDs := make(map[string]bool)
	size := p.Size(msgs)

	for i := 0; i < len(msgs) && size > p.budget.MaxSize; i++ {
		m := msgs[i]
		if m.Role == types.RoleSystem || dropped[i] || keep[i] {
			continue
		}
		dropped[i] = true
		size -= p.counter.CountTokens(Serialize(m))
		for _, c := range m.ToolCalls {
			droppedIDs[c.ID] = true
		}
		// Results of dropped requests go with them.
		for j := i + 1; j < len(msgs); j++ {
			if !dropped[j] && !keep[j] && msgs[j].Role == types.RoleTool && droppedIDs[msgs[j].ToolCallID] {
				dropped[j] = true
				size -= p.counter.CountTokens(Serialize(msgs[j]))
			}
		}
	}

	if size > p.budget.MaxSize {
		return nil, p.exceeded(size)
	}

	out := make([]types.Message, 0, len(msgs))
	for i, m := range msgs {
		if !dropped[i] {
			out = append(out, m)
		}
	}
	return out, nil
}

// latestTurn marks the latest user message, the latest assistant message and
// the tool results answering that assistant message.
func latestTurn(msgs []types.Message) []bool {
	keep := make([]bool, len(msgs))
	lastUser, lastAssistant := -1, -1
	for i := len(msgs) - 1; i >= 0 && (lastUser < 0 || lastAssistant < 0); i-- {
		switch msgs[i].Role {
		case types.RoleUser:
			if lastUser < 0 {
				lastUser = i
			}
		case types.RoleAssistant:
			if lastAssistant < 0 {
				lastAssistant = i
			}
		}
	}
	if lastUser >= 0 {
		keep[lastUser] = true
	}
	if lastAssistant < 0 {
		return keep
	}
	keep[lastAssistant] = true
	ids := make(map[string]bool, len(msgs[lastAssistant].ToolCalls))
	for _, c := range msgs[lastAssistant].ToolCalls {
		ids[c.ID] = true
	}
	for j := lastAssistant + 1; j < len(msgs); j++ {
		if msgs[j].Role == types.RoleTool && ids[msgs[j].ToolCallID] {
			keep[j] = true
		}
	}
	return keep
}
