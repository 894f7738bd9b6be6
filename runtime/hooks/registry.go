package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/danield137/lev/runtime/logger"
)

type registered struct {
	name string
	fn   Func
}

// Bus dispatches events to hooks in registration order.
// A nil *Bus is safe to use; Fire is then a no-op.
type Bus struct {
	mu     sync.Mutex
	hooks  map[EventName][]registered
	errors []*HookError
}

// Option configures a Bus during construction.
type Option func(*Bus)

// WithHook registers fn for event under name.
func WithHook(event EventName, name string, fn Func) Option {
	return func(b *Bus) {
		b.hooks[event] = append(b.hooks[event], registered{name: name, fn: fn})
	}
}

// NewBus creates a Bus with the given options.
func NewBus(opts ...Option) *Bus {
	b := &Bus{hooks: make(map[EventName][]registered)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers fn for event under name.
func (b *Bus) On(event EventName, name string, fn Func) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[event] = append(b.hooks[event], registered{name: name, fn: fn})
}

// Count returns the number of hooks registered for event.
func (b *Bus) Count(event EventName) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.hooks[event])
}

// Fire runs every hook for ev.Name synchronously, in registration order.
// Failures and panics are recorded and returned; they never stop later hooks.
func (b *Bus) Fire(ctx context.Context, ev *Event) []*HookError {
	if b == nil || ev == nil {
		return nil
	}
	b.mu.Lock()
	hooks := append([]registered(nil), b.hooks[ev.Name]...)
	b.mu.Unlock()

	var failed []*HookError
	for _, h := range hooks {
		if err := invoke(ctx, h, ev); err != nil {
			herr := &HookError{Event: ev.Name, Hook: h.name, Err: err}
			logger.WarnContext(ctx, "hook failed", "event", ev.Name, "hook", h.name, "error", err)
			failed = append(failed, herr)
		}
	}

	if len(failed) > 0 {
		b.mu.Lock()
		b.errors = append(b.errors, failed...)
		b.mu.Unlock()
	}
	return failed
}

func invoke(ctx context.Context, h registered, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.fn(ctx, ev)
}

// Errors returns every hook failure recorded so far.
func (b *Bus) Errors() []*HookError {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*HookError(nil), b.errors...)
}
