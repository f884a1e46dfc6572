// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package version parses and orders the dotted major.minor.patch firmware
// and bootloader version strings Wiren Board devices report, per spec.md
// §4.3/§4.6.
package version

import (
	"strconv"
	"strings"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
)

// Version is a three-component release identifier. A fourth "~rcN"-style
// suffix, if present in the source string, is dropped - orchestrator logic
// only ever compares major.minor.patch (spec.md §4.6).
type Version struct {
	Major, Minor, Patch int
}

// Parse accepts "1.2.3", "1.2.3~rc1" and bare "1.2" (patch defaults to 0).
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "~-+"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, &errs.VersionParsingError{Value: s}
	}
	nums := make([]int, 3)
	for idx, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, &errs.VersionParsingError{Value: s}
		}
		nums[idx] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func Compare(a, b Version) int {
	switch {
	case a.Major != b.Major:
		return sign(a.Major - b.Major)
	case a.Minor != b.Minor:
		return sign(a.Minor - b.Minor)
	default:
		return sign(a.Patch - b.Patch)
	}
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

// Less reports whether v orders strictly before o.
func (v Version) Less(o Version) bool { return Compare(v, o) < 0 }

// AtLeast reports whether v orders at or after o.
func (v Version) AtLeast(o Version) bool { return Compare(v, o) >= 0 }

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
}
