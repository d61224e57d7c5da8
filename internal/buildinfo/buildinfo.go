// Package buildinfo exposes the version string every she-* binary reports,
// stamped at build time via -ldflags.
package buildinfo

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// version is set at build time with:
//
//	-ldflags="-X github.com/barnettlynn/she-hsm/internal/buildinfo.version=vX.Y.Z"
var version = "v0.0.0-unset"

// gitCommit is set at build time with:
//
//	-ldflags="-X github.com/barnettlynn/she-hsm/internal/buildinfo.gitCommit=<sha>"
var gitCommit = ""

func Version() string { return version }

func GitCommit() string { return gitCommit }

// Semver parses Version as a semantic version, stripping a leading "v".
func Semver() (semver.Version, error) {
	return semver.Make(strings.TrimPrefix(version, "v"))
}

func String() string {
	if gitCommit == "" {
		return version
	}
	return fmt.Sprintf("%s (%s)", version, gitCommit)
}
