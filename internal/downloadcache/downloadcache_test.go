// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package downloadcache

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
)

type fakeStore struct {
	fetches int32
	body    string
	failErr error
}

func (s *fakeStore) Fetch(_ context.Context, _ string, dst io.Writer) error {
	atomic.AddInt32(&s.fetches, 1)
	if s.failErr != nil {
		return s.failErr
	}
	_, err := io.Copy(dst, strings.NewReader(s.body))
	return err
}

func TestEnsure_DownloadsOnce(t *testing.T) {
	store := &fakeStore{body: "firmware-bytes"}
	c := New(t.TempDir(), store)

	path, err := c.Ensure(context.Background(), "sig", "main", "stable", "1.0.0", "https://example/fw.wbfw")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	data, err := io.ReadAll(mustOpen(t, path))
	if err != nil {
		t.Fatalf("read cached file: %v", err)
	}
	if string(data) != "firmware-bytes" {
		t.Fatalf("cached content = %q, want %q", data, "firmware-bytes")
	}

	// Second call must hit the cache, not the store again.
	if _, err := c.Ensure(context.Background(), "sig", "main", "stable", "1.0.0", "https://example/fw.wbfw"); err != nil {
		t.Fatalf("Ensure() second call error = %v", err)
	}
	if store.fetches != 1 {
		t.Fatalf("store.fetches = %d, want 1", store.fetches)
	}
}

func TestEnsure_ConcurrentCallsCoalesce(t *testing.T) {
	store := &fakeStore{body: "firmware-bytes"}
	c := New(t.TempDir(), store)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Ensure(context.Background(), "sig", "main", "stable", "1.0.0", "https://example/fw.wbfw")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("Ensure() error = %v", err)
		}
	}
	if store.fetches != 1 {
		t.Fatalf("store.fetches = %d, want exactly 1 despite 8 concurrent callers", store.fetches)
	}
}

func TestEnsure_WrapsRemoteFailure(t *testing.T) {
	store := &fakeStore{failErr: errors.New("connection reset")}
	c := New(t.TempDir(), store)

	_, err := c.Ensure(context.Background(), "sig", "main", "stable", "1.0.0", "https://example/fw.wbfw")

	var remoteErr *errs.RemoteStorageError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Ensure() error = %v, want *errs.RemoteStorageError", err)
	}
}

func mustOpen(t *testing.T, path string) io.Reader {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}
