package tools

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danield137/lev/runtime/types"
)

func TestSchemaValidator_ValidateArgs(t *testing.T) {
	validator := NewSchemaValidator()

	schema := types.ToolSchema{
		Name:   "test-tool",
		Server: "s",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"age": {"type": "number"}
			},
			"required": ["name"]
		}`),
	}

	t.Run("valid args", func(t *testing.T) {
		assert.NoError(t, validator.ValidateArgs(schema, json.RawMessage(`{"name": "Alice", "age": 30}`)))
	})

	t.Run("missing required field", func(t *testing.T) {
		err := validator.ValidateArgs(schema, json.RawMessage(`{"age": 30}`))
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "args_invalid", validationErr.Type)
		assert.Equal(t, "test-tool", validationErr.Tool)
	})

	t.Run("invalid type", func(t *testing.T) {
		err := validator.ValidateArgs(schema, json.RawMessage(`{"name": "Alice", "age": "thirty"}`))
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Contains(t, validationErr.Detail, "age")
	})

	t.Run("malformed json", func(t *testing.T) {
		err := validator.ValidateArgs(schema, json.RawMessage(`{"name":`))
		assert.ErrorContains(t, err, "not valid JSON")
	})

	t.Run("empty args treated as empty object", func(t *testing.T) {
		err := validator.ValidateArgs(schema, nil)
		assert.ErrorContains(t, err, "name")
	})

	t.Run("invalid schema", func(t *testing.T) {
		bad := types.ToolSchema{Name: "bad-tool", Parameters: json.RawMessage(`{"type": 12}`)}
		err := validator.ValidateArgs(bad, json.RawMessage(`{}`))
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "schema_invalid", validationErr.Type)
	})

	t.Run("no schema accepts anything", func(t *testing.T) {
		assert.NoError(t, validator.ValidateArgs(types.ToolSchema{Name: "free"}, json.RawMessage(`{"x":1}`)))
	})
}

func TestSchemaValidator_ConcurrentUse(t *testing.T) {
	validator := NewSchemaValidator()
	schema := types.ToolSchema{Name: "n", Parameters: json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}}}`)}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, validator.ValidateArgs(schema, json.RawMessage(`{"n":1}`)))
		}()
	}
	wg.Wait()
}
