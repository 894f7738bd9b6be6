// Package errors provides the error taxonomy shared by lev components.
//
// ContextualError is the base error type that captures component and
// operation for failures that cross package boundaries. The typed errors in
// kinds.go classify run failures so the evaluator can record the terminal
// error kind of a failed run.
//
// Usage:
//
//	err := errors.New("evaluator", "BuildRegistry", someErr)
//	kind := errors.KindOf(err)
package errors

import "fmt"

// ContextualError is a structured error type that provides consistent context
// about where and why an error occurred.
type ContextualError struct {
	// Component identifies the package that produced the error (e.g. "mcp", "agent", "evaluator").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error returns a human-readable representation of the error.
func (e *ContextualError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Component, e.Operation)
	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}
	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// WithDetails sets the details map and returns the error.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}
