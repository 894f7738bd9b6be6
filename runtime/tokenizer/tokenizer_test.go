package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharCounter(t *testing.T) {
	c := CharCounter{}
	assert.Equal(t, 0, c.CountTokens(""))
	assert.Equal(t, 5, c.CountTokens("hello"))
	assert.Equal(t, 3, c.CountTokens("héé"))
	assert.Equal(t, 7, c.CountMultiple([]string{"abc", "defg"}))
}

func TestHeuristicTokenCounter(t *testing.T) {
	h := NewHeuristicTokenCounter(ModelFamilyGPT)
	assert.Equal(t, 0, h.CountTokens("   "))
	assert.Equal(t, 1, h.CountTokens("hi"))
	assert.Equal(t, 13, h.CountTokens("one two three four five six seven eight nine ten"))
	assert.Equal(t, 2, h.CountMultiple([]string{"a", "b"}))

	unknown := NewHeuristicTokenCounter("nope")
	assert.InDelta(t, 1.35, unknown.Ratio(), 1e-9)
}

func TestGetModelFamily(t *testing.T) {
	tests := map[string]ModelFamily{
		"gpt-4o":                ModelFamilyGPT,
		"o3-mini":               ModelFamilyGPT,
		"claude-sonnet-4-5":     ModelFamilyClaude,
		"meta-llama/Llama-3-8b": ModelFamilyLlama,
		"qwen2.5-coder":         ModelFamilyLlama,
		"some-local-model":      ModelFamilyDefault,
	}
	for model, want := range tests {
		assert.Equal(t, want, GetModelFamily(model), model)
	}
}

func TestNewCounter(t *testing.T) {
	c, err := NewCounter("", "")
	require.NoError(t, err)
	assert.IsType(t, CharCounter{}, c)

	c, err = NewCounter(UnitTokens, "claude-3")
	require.NoError(t, err)
	assert.IsType(t, &HeuristicTokenCounter{}, c)

	_, err = NewCounter("bytes", "")
	assert.Error(t, err)
}
