// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package downloadcache resolves (firmware signature, mode, branch,
// version) to a local file, downloading it at most once even if several
// devices on concurrent ports need the exact same build at the same time
// (spec.md §4.6).
package downloadcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
)

// RemoteStore fetches a release artifact's bytes into dst. Swappable for
// tests; production wiring points this at the release repo's HTTP(S)
// endpoint.
type RemoteStore interface {
	Fetch(ctx context.Context, url string, dst io.Writer) error
}

// Cache is a content-addressed local mirror of downloaded firmware
// artifacts, keyed by the same coordinates the release manifest uses.
type Cache struct {
	dir   string
	store RemoteStore

	mu       sync.Mutex
	inflight map[string]*inflightDownload
}

type inflightDownload struct {
	done chan struct{}
	err  error
}

// New builds a Cache rooted at dir, using store for cache misses.
func New(dir string, store RemoteStore) *Cache {
	return &Cache{dir: dir, store: store, inflight: map[string]*inflightDownload{}}
}

// Path returns the deterministic local path for the given coordinates,
// whether or not it has been downloaded yet.
func (c *Cache) Path(signature, mode, branch, version string) string {
	return filepath.Join(c.dir, signature, mode, branch, version+".wbfw")
}

// Ensure returns the local path to (signature, mode, branch, version),
// downloading it from url if it isn't already cached. Concurrent calls for
// the same coordinates coalesce into a single download: there is no
// singleflight-style helper anywhere in the dependency set this project
// draws on, so this is a small hand-rolled wait-group keyed by the target
// path rather than a borrowed abstraction.
func (c *Cache) Ensure(ctx context.Context, signature, mode, branch, version, url string) (string, error) {
	path := c.Path(signature, mode, branch, version)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	c.mu.Lock()
	if dl, ok := c.inflight[path]; ok {
		c.mu.Unlock()
		<-dl.done
		return path, dl.err
	}
	dl := &inflightDownload{done: make(chan struct{})}
	c.inflight[path] = dl
	c.mu.Unlock()

	err := c.download(ctx, url, path)

	c.mu.Lock()
	delete(c.inflight, path)
	c.mu.Unlock()
	dl.err = err
	close(dl.done)

	return path, err
}

func (c *Cache) download(ctx context.Context, url, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &errs.RemoteStorageError{Op: "mkdir", URL: url, Reason: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*.tmp")
	if err != nil {
		return &errs.RemoteStorageError{Op: "create temp file", URL: url, Reason: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := c.store.Fetch(ctx, url, tmp); err != nil {
		tmp.Close()
		return &errs.RemoteStorageError{Op: "fetch", URL: url, Reason: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &errs.RemoteStorageError{Op: "sync", URL: url, Reason: err}
	}
	if err := tmp.Close(); err != nil {
		return &errs.RemoteStorageError{Op: "close", URL: url, Reason: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &errs.RemoteStorageError{Op: "rename", URL: url, Reason: fmt.Errorf("into %s: %w", path, err)}
	}
	return nil
}
