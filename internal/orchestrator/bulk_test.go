// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package orchestrator

import (
	"testing"

	"github.com/wirenboard/wb-fw-updater/internal/prober"
)

func TestGroupByPort_PreservesFirstSeenOrderAndMembership(t *testing.T) {
	specs := []prober.ProbeSpec{
		{Name: "a", Port: "/dev/ttyRS485-1"},
		{Name: "b", Port: "/dev/ttyRS485-2"},
		{Name: "c", Port: "/dev/ttyRS485-1"},
	}
	groups := groupByPort(specs)
	if len(groups) != 2 {
		t.Fatalf("groupByPort() = %d groups, want 2", len(groups))
	}
	if groups[0].port != "/dev/ttyRS485-1" || groups[1].port != "/dev/ttyRS485-2" {
		t.Fatalf("groupByPort() order = [%s, %s], want port-1 first", groups[0].port, groups[1].port)
	}
	if len(groups[0].specs) != 2 || groups[0].specs[0].Name != "a" || groups[0].specs[1].Name != "c" {
		t.Fatalf("groupByPort() port-1 specs = %v, want [a, c] in that order", groups[0].specs)
	}
}
