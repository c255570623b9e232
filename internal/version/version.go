/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the current version of fleetplan.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/fleetplan/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// Commit returns the VCS revision recorded by the Go toolchain, or "unknown".
func Commit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "unknown"
}

// String formats version, commit and Go runtime for --version output.
func String() string {
	return fmt.Sprintf("%s (commit %s, %s)", Version, Commit(), runtime.Version())
}
