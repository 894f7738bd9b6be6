package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	levErrors "github.com/danield137/lev/pkg/errors"
)

// Persona is a named system prompt that cases refer to with `persona: name`.
type Persona struct {
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`
}

// LoadPersonas reads a YAML or JSON object mapping persona names to
// personas.
func LoadPersonas(path string) (map[string]Persona, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the suite
	if err != nil {
		return nil, fmt.Errorf("failed to read personas file: %w", err)
	}
	var personas map[string]Persona
	if err := yaml.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("failed to parse personas file %s: %w", path, err)
	}
	return personas, nil
}

// loadPersonasFile merges the personas of s.PersonasFile into s.Personas.
// A relative path is taken from the suite file's directory.
func (s *Suite) loadPersonasFile() error {
	if s.PersonasFile == "" {
		return nil
	}
	path := s.PersonasFile
	if !filepath.IsAbs(path) && s.Path != "" {
		path = filepath.Join(filepath.Dir(s.Path), path)
	}
	loaded, err := LoadPersonas(path)
	if err != nil {
		return &levErrors.ConfigError{Field: "personas_file", Message: err.Error()}
	}
	if s.Personas == nil {
		s.Personas = make(map[string]Persona, len(loaded))
	}
	for name, p := range loaded {
		if _, ok := s.Personas[name]; !ok {
			s.Personas[name] = p
		}
	}
	return nil
}

// ResolvePersona returns the system prompt for ref. When ref names a persona
// its prompt is returned and known is true; otherwise ref itself is the
// prompt.
func (s *Suite) ResolvePersona(ref string) (prompt string, known bool) {
	if p, ok := s.Personas[ref]; ok {
		return p.SystemPrompt, true
	}
	return ref, false
}

// casePersona returns the persona reference in effect for c.
func (s *Suite) casePersona(c CaseSpec) string {
	if c.Persona != "" {
		return c.Persona
	}
	return s.Defaults.Persona
}
