// Package tokenizer measures serialized conversation size for the context
// budget. Two units are offered: characters (exact, the default) and
// heuristic tokens (words times a per-model-family ratio).
package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TokenCounter measures text in some size unit.
type TokenCounter interface {
	// CountTokens returns the size of text.
	CountTokens(text string) int

	// CountMultiple returns the total size of several segments.
	CountMultiple(texts []string) int
}

// Unit names accepted by NewCounter.
const (
	UnitChars  = "chars"
	UnitTokens = "tokens"
)

// ModelFamily represents a family of LLM models with similar tokenization.
type ModelFamily string

const (
	// ModelFamilyGPT covers OpenAI GPT models, about 1.3 tokens per English word.
	ModelFamilyGPT ModelFamily = "gpt"

	// ModelFamilyClaude covers Anthropic Claude models.
	ModelFamilyClaude ModelFamily = "claude"

	// ModelFamilyLlama covers Llama-style SentencePiece models, about 1.4 tokens per word.
	ModelFamilyLlama ModelFamily = "llama"

	// ModelFamilyDefault is used when the model family is unknown.
	ModelFamilyDefault ModelFamily = "default"
)

//nolint:mnd // empirical tokens-per-word ratios
var tokenRatios = map[ModelFamily]float64{
	ModelFamilyGPT:     1.30,
	ModelFamilyClaude:  1.30,
	ModelFamilyLlama:   1.40,
	ModelFamilyDefault: 1.35,
}

// CharCounter counts runes. Deterministic and exact.
type CharCounter struct{}

// CountTokens returns the rune count of text.
func (CharCounter) CountTokens(text string) int {
	return utf8.RuneCountInString(text)
}

// CountMultiple returns the total rune count.
func (c CharCounter) CountMultiple(texts []string) int {
	total := 0
	for _, t := range texts {
		total += c.CountTokens(t)
	}
	return total
}

// HeuristicTokenCounter estimates token counts from word counts.
type HeuristicTokenCounter struct {
	ratio float64
}

// NewHeuristicTokenCounter creates a token counter for the specified model family.
func NewHeuristicTokenCounter(family ModelFamily) *HeuristicTokenCounter {
	ratio, ok := tokenRatios[family]
	if !ok {
		ratio = tokenRatios[ModelFamilyDefault]
	}
	return &HeuristicTokenCounter{ratio: ratio}
}

// CountTokens estimates the token count of text. A non-empty text counts at
// least one token.
func (h *HeuristicTokenCounter) CountTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	n := int(float64(words) * h.ratio)
	if n == 0 {
		n = 1
	}
	return n
}

// CountMultiple returns the total token count for multiple text segments.
func (h *HeuristicTokenCounter) CountMultiple(texts []string) int {
	total := 0
	for _, text := range texts {
		total += h.CountTokens(text)
	}
	return total
}

// Ratio returns the tokens-per-word ratio.
func (h *HeuristicTokenCounter) Ratio() float64 {
	return h.ratio
}

// GetModelFamily returns the ModelFamily for a model name by prefix.
func GetModelFamily(modelName string) ModelFamily {
	modelLower := strings.ToLower(modelName)

	switch {
	case strings.HasPrefix(modelLower, "gpt-"), strings.HasPrefix(modelLower, "o1"),
		strings.HasPrefix(modelLower, "o3"), strings.HasPrefix(modelLower, "o4"):
		return ModelFamilyGPT
	case strings.HasPrefix(modelLower, "claude"):
		return ModelFamilyClaude
	case strings.HasPrefix(modelLower, "llama"), strings.HasPrefix(modelLower, "meta-llama"),
		strings.HasPrefix(modelLower, "qwen"), strings.HasPrefix(modelLower, "mistral"):
		return ModelFamilyLlama
	default:
		return ModelFamilyDefault
	}
}

// NewCounter returns the counter for unit. An empty unit means characters;
// the model name picks the token ratio.
func NewCounter(unit, model string) (TokenCounter, error) {
	switch unit {
	case "", UnitChars:
		return CharCounter{}, nil
	case UnitTokens:
		return NewHeuristicTokenCounter(GetModelFamily(model)), nil
	default:
		return nil, fmt.Errorf("unknown size unit %q", unit)
	}
}
