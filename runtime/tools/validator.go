package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/danield137/lev/runtime/types"
)

// SchemaValidator handles JSON schema validation for tool arguments. Compiled
// schemas are cached per tool. Safe for concurrent use.
type SchemaValidator struct {
	mu    sync.RWMutex
	cache map[string]*gojsonschema.Schema
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		cache: make(map[string]*gojsonschema.Schema),
	}
}

// Compile compiles and caches the tool's parameter schema.
func (sv *SchemaValidator) Compile(schema types.ToolSchema) error {
	_, err := sv.getSchema(schema)
	return err
}

// ValidateArgs validates tool arguments against the parameter schema. A tool
// without a schema accepts any JSON object.
func (sv *SchemaValidator) ValidateArgs(schema types.ToolSchema, args json.RawMessage) error {
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		return &ValidationError{Type: "args_invalid", Tool: schema.Name, Detail: "arguments are not valid JSON"}
	}
	if len(schema.Parameters) == 0 {
		return nil
	}

	compiled, err := sv.getSchema(schema)
	if err != nil {
		return err
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("validation error for tool %s: %w", schema.Name, err)
	}

	if !result.Valid() {
		errors := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errors[i] = desc.String()
		}
		return &ValidationError{
			Type:   "args_invalid",
			Tool:   schema.Name,
			Detail: fmt.Sprintf("argument validation failed: %v", errors),
		}
	}

	return nil
}

// getSchema retrieves or compiles a JSON schema
func (sv *SchemaValidator) getSchema(schema types.ToolSchema) (*gojsonschema.Schema, error) {
	key := schema.Server + "/" + schema.Name

	sv.mu.RLock()
	compiled, exists := sv.cache[key]
	sv.mu.RUnlock()
	if exists {
		return compiled, nil
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema.Parameters))
	if err != nil {
		return nil, &ValidationError{Type: "schema_invalid", Tool: schema.Name, Detail: err.Error()}
	}

	sv.mu.Lock()
	sv.cache[key] = compiled
	sv.mu.Unlock()
	return compiled, nil
}
