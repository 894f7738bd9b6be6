package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danield137/lev/runtime/providers"
)

// Environment variables consulted when a suite names no provider.
const (
	// EnvProfile selects a profile by name.
	EnvProfile = "LEV_PROFILE"
	// EnvProfilePath points at the profile file.
	EnvProfilePath = "LEV_PROFILE_PATH"
)

// ErrNoProvider is returned when neither the suite nor a profile names a
// provider.
var ErrNoProvider = errors.New("no provider configured: set llm.provider, llm.profile or " + EnvProfile)

// Profile is a named provider setup kept outside suites so they can be
// shared without credentials.
type Profile struct {
	Provider providers.ProviderSpec  `yaml:"provider"`
	Judge    *providers.ProviderSpec `yaml:"judge,omitempty"`
}

// ProfileFile is the layout of ~/.lev/profile.yaml.
type ProfileFile struct {
	Default  string             `yaml:"default,omitempty"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// DefaultProfilePath returns $LEV_PROFILE_PATH or ~/.lev/profile.yaml.
func DefaultProfilePath() string {
	if p := os.Getenv(EnvProfilePath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".lev", "profile.yaml")
}

// LoadProfiles reads a profile file. Keys and URLs are env-expanded.
func LoadProfiles(path string) (*ProfileFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is chosen by the user
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	var pf ProfileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse profile file %s: %w", path, err)
	}
	for name, p := range pf.Profiles {
		if p.Provider.ID == "" {
			p.Provider.ID = name
		}
		expandProvider(&p.Provider)
		if p.Judge != nil {
			expandProvider(p.Judge)
		}
		pf.Profiles[name] = p
	}
	return &pf, nil
}

// Names returns the profile names in sorted order.
func (pf *ProfileFile) Names() []string {
	names := make([]string, 0, len(pf.Profiles))
	for n := range pf.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the profile called name, or the file default when name is
// empty.
func (pf *ProfileFile) Lookup(name string) (Profile, error) {
	if name == "" {
		name = pf.Default
	}
	if name == "" && len(pf.Profiles) == 1 {
		for only := range pf.Profiles {
			name = only
		}
	}
	if name == "" {
		return Profile{}, fmt.Errorf("no profile selected and no default set (available: %s)", strings.Join(pf.Names(), ", "))
	}
	p, ok := pf.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found (available: %s)", name, strings.Join(pf.Names(), ", "))
	}
	return p, nil
}

// ResolveOptions override how ResolveProviders picks a profile.
type ResolveOptions struct {
	// Profile wins over the suite's llm.profile and $LEV_PROFILE.
	Profile string
	// ProfilePath replaces DefaultProfilePath.
	ProfilePath string
}

// ResolveProviders returns the provider under evaluation and the judge.
// An inline llm.provider is used as is unless a profile is requested
// explicitly. Otherwise the profile is chosen from, in order, opts.Profile,
// $LEV_PROFILE, llm.profile and the profile file default. The judge falls
// back to the profile judge, then to the evaluated provider.
func (s *Suite) ResolveProviders(opts ResolveOptions) (providers.ProviderSpec, providers.ProviderSpec, error) {
	if s.LLM.Provider != nil && opts.Profile == "" {
		agent := *s.LLM.Provider
		judge := agent
		if s.LLM.Judge != nil {
			judge = *s.LLM.Judge
		}
		return agent, judge, nil
	}

	name := firstNonEmpty(opts.Profile, os.Getenv(EnvProfile), s.LLM.Profile)
	path := firstNonEmpty(opts.ProfilePath, DefaultProfilePath())
	if path == "" {
		return providers.ProviderSpec{}, providers.ProviderSpec{}, ErrNoProvider
	}
	pf, err := LoadProfiles(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && name == "" {
			return providers.ProviderSpec{}, providers.ProviderSpec{}, ErrNoProvider
		}
		return providers.ProviderSpec{}, providers.ProviderSpec{}, err
	}
	p, err := pf.Lookup(name)
	if err != nil {
		return providers.ProviderSpec{}, providers.ProviderSpec{}, err
	}

	judge := p.Provider
	switch {
	case s.LLM.Judge != nil:
		judge = *s.LLM.Judge
	case p.Judge != nil:
		judge = *p.Judge
	}
	return p.Provider, judge, nil
}

func expandProvider(p *providers.ProviderSpec) {
	p.APIKey = os.ExpandEnv(p.APIKey)
	p.BaseURL = os.ExpandEnv(p.BaseURL)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
