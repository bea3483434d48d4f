package app

import (
	"fmt"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const versionLogPrefix = "app:version"

// ParseVersion parses a strict semantic version, tolerating a leading "v".
func ParseVersion(s string) (*masterminds.Version, error) {
	v, err := masterminds.StrictNewVersion(strings.TrimPrefix(strings.TrimSpace(s), "v"))
	if err != nil {
		return nil, fmt.Errorf("%s - invalid version %q: %w", versionLogPrefix, s, err)
	}
	return v, nil
}

// IsNewer reports whether remote is greater than current. Prereleases sort
// before their release, so 1.2.0-rc.1 is older than 1.2.0.
func IsNewer(current, remote string) (bool, error) {
	cur, err := ParseVersion(current)
	if err != nil {
		return false, err
	}
	rem, err := ParseVersion(remote)
	if err != nil {
		return false, err
	}
	return rem.GreaterThan(cur), nil
}

// Satisfies reports whether version is inside constraint, e.g. ">=1.2.0, <2".
func Satisfies(version, constraint string) (bool, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return false, err
	}
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("%s - invalid constraint %q: %w", versionLogPrefix, constraint, err)
	}
	return c.Check(v), nil
}
