// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package version

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"1.2.3", Version{1, 2, 3}, false},
		{"1.2.3~rc1", Version{1, 2, 3}, false},
		{"1.2", Version{1, 2, 0}, false},
		{"not-a-version", Version{}, true},
		{"1", Version{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompareAndOrdering(t *testing.T) {
	a, _ := Parse("1.2.0")
	b, _ := Parse("1.10.0")
	if !a.Less(b) {
		t.Fatal("1.2.0 should order before 1.10.0 (numeric, not lexical, comparison)")
	}
	if !b.AtLeast(a) {
		t.Fatal("1.10.0 should be at least 1.2.0")
	}
	if Compare(a, a) != 0 {
		t.Fatal("a version should compare equal to itself")
	}
}
