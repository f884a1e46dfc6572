// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package arbitration

import (
	"context"
	"testing"
)

func TestFilterUnexpected_DropsDefaultDriver(t *testing.T) {
	holders := []Holder{
		{PID: 1, Comm: DefaultDriverProcessName},
		{PID: 2, Comm: "minicom"},
	}
	got := filterUnexpected(holders)
	if len(got) != 1 || got[0].Comm != "minicom" {
		t.Fatalf("filterUnexpected() = %v, want only the non-driver holder", got)
	}
}

func TestWithPort_NoHoldersRunsWork(t *testing.T) {
	ran := false
	err := WithPort(context.Background(), "/dev/does-not-exist-wbfw-test", false, nil, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithPort() error = %v", err)
	}
	if !ran {
		t.Fatal("WithPort() did not run the work function")
	}
}

func TestWithPort_PropagatesWorkError(t *testing.T) {
	want := &testErr{"boom"}
	err := WithPort(context.Background(), "/dev/does-not-exist-wbfw-test", false, nil, func(ctx context.Context) error {
		return want
	})
	if err != want {
		t.Fatalf("WithPort() error = %v, want %v", err, want)
	}
}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
