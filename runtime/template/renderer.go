// Package template renders the {{name}} placeholders used by judge prompts.
//
// Substitution is a single pass over the template text: values are inserted
// verbatim and never scanned again, so a transcript that itself contains
// "{{...}}" cannot inject or break placeholders.
package template

import (
	"fmt"
	"sort"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

type segment struct {
	text string
	name string // non-empty for a placeholder
}

// Template is a parsed prompt template. It is immutable and safe for
// concurrent use.
type Template struct {
	segments []segment
	names    []string
}

// Parse splits text into literal and placeholder segments. Names are trimmed
// of surrounding spaces; "{{}}" and unterminated "{{" are literal text.
func Parse(text string) *Template {
	t := &Template{}
	seen := make(map[string]bool)
	for len(text) > 0 {
		start := strings.Index(text, openDelim)
		if start < 0 {
			t.segments = append(t.segments, segment{text: text})
			break
		}
		end := strings.Index(text[start+len(openDelim):], closeDelim)
		if end < 0 {
			t.segments = append(t.segments, segment{text: text})
			break
		}
		end += start + len(openDelim)
		name := strings.TrimSpace(text[start+len(openDelim) : end])
		if name == "" || strings.ContainsAny(name, "{}\n") {
			t.segments = append(t.segments, segment{text: text[:end+len(closeDelim)]})
			text = text[end+len(closeDelim):]
			continue
		}
		if start > 0 {
			t.segments = append(t.segments, segment{text: text[:start]})
		}
		t.segments = append(t.segments, segment{name: name})
		if !seen[name] {
			seen[name] = true
			t.names = append(t.names, name)
		}
		text = text[end+len(closeDelim):]
	}
	return t
}

// Placeholders returns the distinct placeholder names in order of first use.
func (t *Template) Placeholders() []string {
	return append([]string(nil), t.names...)
}

// Render substitutes vars into the template. Every placeholder must have a
// value; missing ones are reported together, sorted.
func (t *Template) Render(vars map[string]string) (string, error) {
	var missing []string
	for _, name := range t.names {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("unresolved template placeholders: %v", missing)
	}

	var b strings.Builder
	for _, s := range t.segments {
		if s.name != "" {
			b.WriteString(vars[s.name])
			continue
		}
		b.WriteString(s.text)
	}
	return b.String(), nil
}

// Render parses and renders text in one step.
func Render(text string, vars map[string]string) (string, error) {
	return Parse(text).Render(vars)
}

// ValidateRequiredVars checks that all required variables are provided and non-empty.
func ValidateRequiredVars(required []string, vars map[string]string) error {
	var missing []string
	for _, name := range required {
		if v, ok := vars[name]; !ok || v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required variables: %v", missing)
	}
	return nil
}

// MergeVars merges variable maps, later maps taking precedence.
//
//	defaults := map[string]string{"rubric": "be strict", "scale": "0-1"}
//	MergeVars(defaults, map[string]string{"rubric": "be lenient"})
//	// {"rubric": "be lenient", "scale": "0-1"}
func MergeVars(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
