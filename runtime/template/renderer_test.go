package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_BasicSubstitution(t *testing.T) {
	out, err := Render("Hello, {{name}}! Welcome to {{ place }}.", map[string]string{
		"name":  "Alice",
		"place": "Wonderland",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Alice! Welcome to Wonderland.", out)
}

func TestRender_NoVariables(t *testing.T) {
	text := "This is a plain text template with no variables."
	out, err := Render(text, nil)
	require.NoError(t, err)
	assert.Equal(t, text, out)
}

func TestRender_ValuesAreNotRescanned(t *testing.T) {
	out, err := Render("Trace: {{trace}}", map[string]string{
		"trace": "USER → what is {{secret}}?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Trace: USER → what is {{secret}}?", out)
}

func TestRender_RepeatedPlaceholder(t *testing.T) {
	tmpl := Parse("{{a}}-{{b}}-{{a}}")
	assert.Equal(t, []string{"a", "b"}, tmpl.Placeholders())

	out, err := tmpl.Render(map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.Equal(t, "1-2-1", out)
}

func TestRender_Missing(t *testing.T) {
	_, err := Render("{{z}} {{a}} {{ok}}", map[string]string{"ok": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[a z]")
}

func TestParse_LiteralBraces(t *testing.T) {
	tmpl := Parse(`reply with {}, "{{}}" or {"score": 1} then {{name`)
	assert.Empty(t, tmpl.Placeholders())

	out, err := tmpl.Render(nil)
	require.NoError(t, err)
	assert.Equal(t, `reply with {}, "{{}}" or {"score": 1} then {{name`, out)
}

func TestValidateRequiredVars(t *testing.T) {
	assert.NoError(t, ValidateRequiredVars([]string{"a"}, map[string]string{"a": "1"}))

	err := ValidateRequiredVars([]string{"a", "b", "c"}, map[string]string{"a": "1", "b": ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[b c]")
}

func TestMergeVars(t *testing.T) {
	out := MergeVars(
		map[string]string{"color": "blue", "size": "medium"},
		map[string]string{"color": "red"},
		nil,
	)
	assert.Equal(t, map[string]string{"color": "red", "size": "medium"}, out)
}
