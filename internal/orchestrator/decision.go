// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package orchestrator implements spec.md §4.7: the update planner and
// executor that combines internal/prober, internal/release,
// internal/downloadcache, internal/device and internal/flasher to reach a
// goal - single-device update, single-device recover, or their bulk
// equivalents across a whole driver config.
package orchestrator

import (
	"github.com/wirenboard/wb-fw-updater/internal/version"
)

// SkipReason names why IsReflashNecessary declined to flash, or the empty
// string when it says to flash.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipIsActual         SkipReason = "is_actual"
	SkipGoneAhead        SkipReason = "gone_ahead"
	SkipUnknownSignature SkipReason = "unknown_signature"
)

// IsReflashNecessary implements spec.md §4.7's decision table exactly: it
// depends only on the ordered comparison of actual vs. provided, force and
// allowDowngrade - no other state, per the invariant in spec.md §8.
func IsReflashNecessary(actual, provided version.Version, force, allowDowngrade bool) (bool, SkipReason) {
	switch {
	case version.Compare(provided, actual) == 0:
		if force {
			return true, SkipNone
		}
		return false, SkipIsActual
	case provided.Less(actual):
		if allowDowngrade {
			return true, SkipNone
		}
		return false, SkipGoneAhead
	default: // provided > actual
		return true, SkipNone
	}
}

// MajorBumped reports whether flashing provided over actual crosses a
// major-version boundary, which spec.md §4.7 says must obtain explicit
// user confirmation before proceeding (bypassable only by --force).
func MajorBumped(actual, provided version.Version) bool {
	return actual.Major != provided.Major
}

// IsBootloaderReflashNecessary applies the asymmetric bootloader policy of
// spec.md §4.7/§D.2: a bootloader downgrade is refused outright, with no
// allow-downgrade override, regardless of force.
func IsBootloaderReflashNecessary(actual, provided version.Version, force bool) (bool, SkipReason, bool) {
	if provided.Less(actual) {
		return false, SkipNone, false
	}
	flash, reason := IsReflashNecessary(actual, provided, force, false)
	return flash, reason, true
}
