package tools

import (
	"errors"
	"fmt"
)

// Sentinel errors for tool operations.
var (
	// ErrToolNotFound is returned when a requested tool is not found in the registry.
	ErrToolNotFound = errors.New("tool not found")

	// ErrDuplicateTool is returned when two servers offer a tool with the same name.
	ErrDuplicateTool = errors.New("duplicate tool name")

	// ErrToolNameRequired is returned when registering a tool without a name.
	ErrToolNameRequired = errors.New("tool name is required")

	// ErrClientRequired is returned when registering a nil client.
	ErrClientRequired = errors.New("tool client is required")
)

// ValidationError represents a tool validation failure
type ValidationError struct {
	Type   string `json:"type"` // "args_invalid" | "schema_invalid"
	Tool   string `json:"tool"`
	Detail string `json:"detail"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s validation error (%s): %s", e.Tool, e.Type, e.Detail)
}

// Conflict records a tool name offered by more than one server.
type Conflict struct {
	Tool     string `json:"tool"`
	Kept     string `json:"kept"`
	Rejected string `json:"rejected"`
}

func (c Conflict) err() error {
	return fmt.Errorf("%w: %q offered by %q is already provided by %q", ErrDuplicateTool, c.Tool, c.Rejected, c.Kept)
}
