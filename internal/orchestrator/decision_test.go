// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package orchestrator

import (
	"testing"

	"github.com/wirenboard/wb-fw-updater/internal/version"
)

func v(s string) version.Version {
	ver, err := version.Parse(s)
	if err != nil {
		panic(err)
	}
	return ver
}

func TestIsReflashNecessary_Table(t *testing.T) {
	tests := []struct {
		name                     string
		actual, provided         string
		force, allowDowngrade    bool
		wantFlash                bool
		wantReason               SkipReason
	}{
		{"equal no force", "1.2.3", "1.2.3", false, false, false, SkipIsActual},
		{"equal force", "1.2.3", "1.2.3", true, false, true, SkipNone},
		{"newer provided", "1.2.3", "1.2.4", false, false, true, SkipNone},
		{"older provided no downgrade", "1.2.4", "1.2.3", false, false, false, SkipGoneAhead},
		{"older provided allow downgrade", "1.2.4", "1.2.3", false, true, true, SkipNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flash, reason := IsReflashNecessary(v(tt.actual), v(tt.provided), tt.force, tt.allowDowngrade)
			if flash != tt.wantFlash || reason != tt.wantReason {
				t.Errorf("IsReflashNecessary(%s, %s, force=%v, allowDowngrade=%v) = (%v, %q), want (%v, %q)",
					tt.actual, tt.provided, tt.force, tt.allowDowngrade, flash, reason, tt.wantFlash, tt.wantReason)
			}
		})
	}
}

func TestMajorBumped(t *testing.T) {
	if !MajorBumped(v("1.9.9"), v("2.0.0")) {
		t.Error("MajorBumped(1.9.9, 2.0.0) = false, want true")
	}
	if MajorBumped(v("1.9.9"), v("1.10.0")) {
		t.Error("MajorBumped(1.9.9, 1.10.0) = true, want false")
	}
}

func TestIsBootloaderReflashNecessary_DowngradeAlwaysForbidden(t *testing.T) {
	_, _, allowed := IsBootloaderReflashNecessary(v("1.2.0"), v("1.1.0"), true)
	if allowed {
		t.Fatal("IsBootloaderReflashNecessary() allowed a downgrade even with force=true")
	}
}

func TestIsBootloaderReflashNecessary_UpgradeAllowed(t *testing.T) {
	flash, reason, allowed := IsBootloaderReflashNecessary(v("1.1.0"), v("1.2.0"), false)
	if !allowed || !flash || reason != SkipNone {
		t.Fatalf("IsBootloaderReflashNecessary() = (%v, %q, %v), want (true, \"\", true)", flash, reason, allowed)
	}
}
