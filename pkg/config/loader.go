package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/danield137/lev/runtime/evaluator"
)

// LoadSuite reads, schema-checks and parses the suite at path. Environment
// references in server env values, commands and args, and in provider keys
// are expanded. Semantic checks are left to Validate.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the caller
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}
	s, err := parseSuite(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseSuite parses suite YAML. A personas_file is read relative to the
// working directory.
func ParseSuite(data []byte) (*Suite, error) {
	return parseSuite(data, "")
}

func parseSuite(data []byte, path string) (*Suite, error) {
	if err := ValidateSuiteSchema(data); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	s := Suite{Path: path}
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse suite: %w", err)
	}
	if s.Name == "" {
		s.Name = s.Metadata.Name
	}

	for name, srv := range s.Servers {
		if srv.Name == "" {
			srv.Name = name
		}
		s.Servers[name] = expandServer(srv)
	}
	if s.LLM.Provider != nil {
		expandProvider(s.LLM.Provider)
	}
	if s.LLM.Judge != nil {
		expandProvider(s.LLM.Judge)
	}
	if err := s.loadPersonasFile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// expandServer resolves $VAR and ${VAR} references against the process
// environment. Unset variables expand to the empty string.
func expandServer(s evaluator.ServerSpec) evaluator.ServerSpec {
	s.Command = os.ExpandEnv(s.Command)
	if len(s.Args) > 0 {
		args := make([]string, len(s.Args))
		for i, a := range s.Args {
			args[i] = os.ExpandEnv(a)
		}
		s.Args = args
	}
	if len(s.Env) > 0 {
		env := make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			env[k] = os.ExpandEnv(v)
		}
		s.Env = env
	}
	return s
}
