package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version constants for suite manifests.
const (
	// SchemaVersion is the newest manifest version this build writes.
	SchemaVersion = "1.0.0"

	// SupportedVersions is the constraint a manifest version must satisfy.
	SupportedVersions = "^1.0.0"
)

var supported = semver.MustParse(SchemaVersion)

// CheckVersion reports whether v is a manifest version this build reads.
func CheckVersion(v string) error {
	if v == "" {
		return fmt.Errorf("version is required (current is %s)", SchemaVersion)
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("version %q is not a semantic version: %w", v, err)
	}
	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	if !c.Check(parsed) {
		return fmt.Errorf("version %s is not supported (want %s)", parsed, SupportedVersions)
	}
	if parsed.GreaterThan(supported) {
		return fmt.Errorf("version %s is newer than this build (%s)", parsed, SchemaVersion)
	}
	return nil
}
