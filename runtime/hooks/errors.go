// Package hooks provides the event bus the run loop fires around model calls.
// A Bus is created per run; there is no package-level hook state.
package hooks

import "fmt"

// HookError records a hook that returned an error or panicked. Hook errors
// never abort a run; they are collected on the Bus.
type HookError struct {
	Event EventName
	Hook  string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %q (%s) failed: %v", e.Hook, e.Event, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
