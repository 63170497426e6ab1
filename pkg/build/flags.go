// SPDX-License-Identifier: MIT
//
// Package build provides functionality to manage and retrieve build information
// for a Go application. It allows embedding metadata such as the application
// name, build timestamp, Git commit hash, and semantic version into the binary
// at compile time using linker flags:
//
//	go build -ldflags "-X pitchscope/pkg/build.buildName=pitchscope \
//	  -X pitchscope/pkg/build.buildVersion=0.1.0 ..."
//
// A binary built without any of these flags is a development build and keeps
// the defaults.
package build

import (
	"errors"
	"fmt"
)

const (
	defaultName        = "pitchscope"
	defaultVersion     = "dev"
	defaultDescription = "Real-time audio pitch analyser"
)

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// String formats the build information for --version output.
func (f ldFlags) String() string {
	if f.Commit == "unknown" {
		return f.Version
	}
	return fmt.Sprintf("%s (commit %s, built %s)", f.Version, f.Commit, f.Time)
}

// Package-level variables for build information. These are populated by -ldflags
// during compilation.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:        defaultName,
		Description: defaultDescription,
		Time:        "unknown",
		Commit:      "unknown",
		Version:     defaultVersion,
	}
)

// Initialize validates and copies build information from ldflags variables
// into the buildFlags struct. A development build (no flags at all) keeps the
// defaults; a partial set of flags is an error.
func Initialize() error {
	if buildName == "" && buildTime == "" && buildCommit == "" && buildVersion == "" {
		return nil
	}
	if buildName == "" {
		return errors.New("BuildName is required")
	}
	if buildTime == "" {
		return errors.New("BuildTime is required")
	}
	if buildCommit == "" {
		return errors.New("BuildCommit is required")
	}
	if buildVersion == "" {
		return errors.New("BuildVersion is required")
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
