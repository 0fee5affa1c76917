// SPDX-FileCopyrightText: Copyright (c) 2020 Oliver Kuckertz, Siderolabs and Equinix
// SPDX-License-Identifier: Apache-2.0

// Package version contains variables such as project name, tag and sha. It's a proper alternative to using
// -ldflags '-X ...'.
package version

import (
	_ "embed"
	"runtime/debug"
	"strings"
)

var (
	// Tag declares project git tag.
	//go:embed data/tag
	Tag string
	// SHA declares project git SHA.
	//go:embed data/sha
	SHA string
	// Name declares project name.
	Name = func() string {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return "wrapq"
		}

		// the first path element after the organisation is the project
		tail, found := strings.CutPrefix(info.Path, "github.com/siderolabs/")
		if !found {
			return "wrapq"
		}

		before, _, _ := strings.Cut(tail, "/")

		return before
	}()
)

// String renders the version as "tag (sha)".
func String() string {
	return strings.TrimSpace(Tag) + " (" + strings.TrimSpace(SHA) + ")"
}
