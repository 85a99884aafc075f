// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes the source revision of the running binary.
//
// The coordination protocol compares peers by a single monotonic
// integer: the number of commits from the repository root to the
// built HEAD. It is injected at build time:
//
//	go build -ldflags "-X github.com/chorus-foundation/chorus/lib/version.Revision=$(git rev-list --count HEAD)"
//
// A peer advertising a higher revision means newer code is deployed
// somewhere and this instance should update itself. The revision is
// never used for leader tie-breaking.
package version

import (
	"fmt"
	"runtime"
	"strconv"
)

// These variables are set via -ldflags at build time.
var (
	// Revision is the commit depth of HEAD, as a decimal string.
	Revision = "0"

	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"
)

// Number returns Revision as the integer carried in CONNECT payloads.
// An unparsable Revision is a build-system defect, reported as 0 so a
// misbuilt binary defers to properly built peers instead of forcing
// them to "update" to it.
func Number() int {
	n, err := strconv.Atoi(Revision)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Info returns a formatted version string for --version output.
func Info() string {
	return fmt.Sprintf("r%s (%s, %s, %s/%s)", Revision, GitCommit, BuildTime, runtime.GOOS, runtime.GOARCH)
}
