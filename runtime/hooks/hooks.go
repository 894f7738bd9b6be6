package hooks

import (
	"context"

	"github.com/danield137/lev/runtime/history"
	"github.com/danield137/lev/runtime/types"
)

// EventName identifies a hook point.
type EventName string

// Hook points fired by the agent host.
const (
	// PrePrompt fires before every model call.
	PrePrompt EventName = "pre_prompt"

	// PostPrompt fires once when a prompt reaches DONE or FAILED.
	PostPrompt EventName = "post_prompt"
)

// Host is the read-only view of the agent host passed to hooks.
type Host interface {
	History() *history.ChatHistory
	State() string
	Err() error
}

// Event is passed to every hook. Context is the mutable per-run map shared
// by all hooks of the run; Reply is nil until the run is done and stays nil
// on failure.
type Event struct {
	Name    EventName
	Host    Host
	Reply   *types.Reply
	Context map[string]any
}

// Func is a hook callback.
type Func func(ctx context.Context, ev *Event) error
