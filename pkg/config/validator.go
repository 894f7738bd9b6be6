package config

import (
	"errors"
	"fmt"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/evals"
)

// SuiteValidator checks a parsed suite for problems the schema cannot
// express: the version, references between cases and servers, duplicate
// ids and scorer kinds unknown to the registry.
type SuiteValidator struct {
	suite   *Suite
	scoring *evals.Registry
	errors  []error
	warns   []string
}

// NewSuiteValidator creates a validator. A nil registry uses
// evals.NewRegistry.
func NewSuiteValidator(s *Suite, scoring *evals.Registry) *SuiteValidator {
	if scoring == nil {
		scoring = evals.NewRegistry()
	}
	return &SuiteValidator{suite: s, scoring: scoring}
}

// Validate runs every check and returns the errors joined.
func (v *SuiteValidator) Validate() error {
	v.errors, v.warns = nil, nil
	v.validateVersion()
	v.validateServers()
	v.validatePersonas()
	v.validateCases()
	return errors.Join(v.errors...)
}

// Warnings returns the non-fatal findings of the last Validate call.
func (v *SuiteValidator) Warnings() []string { return v.warns }

// Validate is shorthand for NewSuiteValidator(s, scoring).Validate().
func (s *Suite) Validate(scoring *evals.Registry) error {
	return NewSuiteValidator(s, scoring).Validate()
}

func (v *SuiteValidator) fail(field, format string, args ...any) {
	v.errors = append(v.errors, &levErrors.ConfigError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *SuiteValidator) validateVersion() {
	if err := CheckVersion(v.suite.Version); err != nil {
		v.fail("version", "%v", err)
	}
}

func (v *SuiteValidator) validateServers() {
	for key, srv := range v.suite.Servers {
		field := "servers." + key
		if srv.Name != key {
			v.fail(field+".name", "must match the key %q, got %q", key, srv.Name)
		}
		if !srv.Local() && srv.Command == "" {
			v.fail(field, "needs a command or inline tools")
		}
		if srv.Local() && srv.Command != "" {
			v.warns = append(v.warns, fmt.Sprintf("%s: command ignored, inline tools are served in-process", field))
		}
	}
	for i, name := range v.suite.Defaults.Servers {
		if _, ok := v.suite.Servers[name]; !ok {
			v.fail(fmt.Sprintf("defaults.servers[%d]", i), "unknown server %q", name)
		}
	}
}

func (v *SuiteValidator) validatePersonas() {
	for name, p := range v.suite.Personas {
		if p.SystemPrompt == "" {
			v.fail("personas."+name+".system_prompt", "is required")
		}
	}
	v.personaRef(v.suite.Defaults.Persona, "defaults")
	if v.suite.Defaults.Persona != "" && v.suite.Defaults.Execution.SystemPrompt != "" {
		v.warns = append(v.warns, "defaults: persona replaces execution.system_prompt")
	}
}

// personaRef warns about references that name no persona and are therefore
// sent as the system prompt verbatim.
func (v *SuiteValidator) personaRef(ref, field string) {
	if ref == "" {
		return
	}
	if _, known := v.suite.ResolvePersona(ref); !known && len(v.suite.Personas) > 0 {
		v.warns = append(v.warns, fmt.Sprintf("%s: persona %q is not defined, it is used as the system prompt", field, ref))
	}
}

func (v *SuiteValidator) validateCases() {
	if len(v.suite.Cases) == 0 {
		v.fail("cases", "at least one case is required")
		return
	}
	for _, msg := range v.scoring.ValidateSpecs(v.suite.Defaults.Scorers, "defaults") {
		v.fail("defaults.scorers", "%s", msg)
	}
	v.resolvable(v.suite.Defaults.Scorers, "defaults.scorers")

	seen := make(map[string]bool, len(v.suite.Cases))
	for i, c := range v.suite.Cases {
		field := fmt.Sprintf("cases[%d]", i)
		if c.ID != "" {
			field = fmt.Sprintf("cases[%s]", c.ID)
			if seen[c.ID] {
				v.fail(field+".id", "duplicate case id")
			}
			seen[c.ID] = true
		}
		v.personaRef(c.Persona, field)
		if c.Persona != "" && c.Execution != nil && c.Execution.SystemPrompt != "" {
			v.warns = append(v.warns, field+": execution.system_prompt overrides persona")
		}
		for j, name := range c.Servers {
			if _, ok := v.suite.Servers[name]; !ok {
				v.fail(fmt.Sprintf("%s.servers[%d]", field, j), "unknown server %q", name)
			}
		}

		scorers := v.suite.caseScorers(c)
		if len(scorers) == 0 {
			v.warns = append(v.warns, field+": no scorers, the aggregate will be 0")
		}
		for _, msg := range v.scoring.ValidateSpecs(scorers, "case:"+c.ID) {
			v.fail(field+".scorers", "%s", msg)
		}
		v.resolvable(c.Scorers, field+".scorers")
	}

	// Structural checks on the merged cases catch bad execution settings.
	cases, err := v.suite.EvalCases()
	if err != nil {
		v.errors = append(v.errors, err)
		return
	}
	for i := range cases {
		if err := cases[i].Validate(); err != nil {
			v.errors = append(v.errors, err)
		}
	}
}

// resolvable reports scorer parameters the factories reject.
func (v *SuiteValidator) resolvable(specs []evals.ScorerSpec, field string) {
	for i, spec := range specs {
		if !v.scoring.Has(spec.Kind) {
			continue
		}
		if _, err := v.scoring.Resolve(spec); err != nil {
			v.fail(fmt.Sprintf("%s[%d]", field, i), "%v", err)
		}
	}
}
