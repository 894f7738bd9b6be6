package config

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/danield137/lev/runtime/evals"
	"github.com/danield137/lev/runtime/evaluator"
	"github.com/danield137/lev/runtime/providers"
)

// Suite is a parsed suite manifest.
type Suite struct {
	Version      string                          `yaml:"version"`
	Name         string                          `yaml:"name,omitempty"`
	Description  string                          `yaml:"description,omitempty"`
	Metadata     metav1.ObjectMeta               `yaml:"metadata,omitempty"`
	LLM          LLMConfig                       `yaml:"llm,omitempty"`
	Logging      *LoggingSpec                    `yaml:"logging,omitempty"`
	Personas     map[string]Persona              `yaml:"personas,omitempty"`
	PersonasFile string                          `yaml:"personas_file,omitempty"`
	Servers      map[string]evaluator.ServerSpec `yaml:"servers,omitempty"`
	Defaults     Defaults                        `yaml:"defaults,omitempty"`
	Cases        []CaseSpec                      `yaml:"cases"`

	// Path is the file the suite was loaded from, empty for in-memory suites.
	Path string `yaml:"-"`
}

// LLMConfig selects the model under evaluation and the judge. Either
// Provider is given inline or a profile is looked up.
type LLMConfig struct {
	Profile  string                  `yaml:"profile,omitempty"`
	Provider *providers.ProviderSpec `yaml:"provider,omitempty"`
	Judge    *providers.ProviderSpec `yaml:"judge,omitempty"`
}

// Defaults apply to every case that does not override them.
type Defaults struct {
	Concurrency int                       `yaml:"concurrency,omitempty"`
	Servers     []string                  `yaml:"servers,omitempty"`
	Persona     string                    `yaml:"persona,omitempty"`
	Execution   evaluator.ExecutionConfig `yaml:"execution,omitempty"`
	Scorers     []evals.ScorerSpec        `yaml:"scorers,omitempty"`
}

// CaseSpec is one case as written in the manifest. Servers refer to the
// suite's servers by name.
type CaseSpec struct {
	ID           string                     `yaml:"id"`
	Description  string                     `yaml:"description,omitempty"`
	Prompt       string                     `yaml:"prompt"`
	Servers      []string                   `yaml:"servers,omitempty"`
	Persona      string                     `yaml:"persona,omitempty"`
	Execution    *evaluator.ExecutionConfig `yaml:"execution,omitempty"`
	Scorers      []evals.ScorerSpec         `yaml:"scorers,omitempty"`
	Expectations map[string]any             `yaml:"expectations,omitempty"`

	// SkipDefaultScorers drops defaults.scorers for this case.
	SkipDefaultScorers bool `yaml:"skip_default_scorers,omitempty"`
}
