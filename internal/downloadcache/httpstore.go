// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package downloadcache

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
)

// HTTPStore is the production RemoteStore: it fetches release artifacts and
// latest.txt markers from the remote store layout (spec.md §6) over plain
// HTTP(S).
type HTTPStore struct {
	Client *http.Client
}

// NewHTTPStore builds an HTTPStore using client, or http.DefaultClient if
// client is nil.
func NewHTTPStore(client *http.Client) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{Client: client}
}

// Fetch implements RemoteStore.
func (s *HTTPStore) Fetch(ctx context.Context, url string, dst io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &errs.RemoteStorageError{Op: "build request", URL: url, Reason: err}
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return &errs.RemoteStorageError{Op: "do request", URL: url, Reason: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &errs.RemoteStorageError{Op: "fetch", URL: url, Reason: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return &errs.RemoteStorageError{Op: "copy body", URL: url, Reason: err}
	}
	return nil
}
