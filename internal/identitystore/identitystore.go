// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package identitystore is the bounded, persistent record of firmware
// signatures last seen per device identity (spec.md §4.8). It is a plain
// FIFO cache, not a database: once its capacity is exceeded the oldest
// identity is forgotten, on the assumption that a device not touched in a
// while doesn't need its history kept around.
package identitystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultCapacity is the entry limit used when none is configured,
// spec.md §4.8.
const DefaultCapacity = 100

// Record is one remembered identity -> firmware-signature mapping, in the
// order Dump reports them (oldest first).
type Record struct {
	Key         string `json:"key"`
	FWSignature string `json:"fw_signature"`
}

// Store is a capacity-bounded FIFO keyed by an opaque device identity
// string - callers combine whatever uniquely identifies a device into that
// key (in this module, its port and slave id, via prober.IdentityKey).
type Store struct {
	mu         sync.Mutex
	path       string
	capacity   int
	order      []string
	signatures map[string]string
}

// New builds an empty Store backed by path, with capacity entries at most.
// capacity <= 0 means DefaultCapacity.
func New(path string, capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{path: path, capacity: capacity, signatures: map[string]string{}}
}

// Load reads path into a new Store. A missing file is not an error - it
// just means no identities have been recorded yet.
func Load(path string, capacity int) (*Store, error) {
	s := New(path, capacity)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identitystore: read %s: %w", path, err)
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("identitystore: decode %s: %w", path, err)
	}
	for _, r := range records {
		s.order = append(s.order, r.Key)
		s.signatures[r.Key] = r.FWSignature
	}
	s.evictLocked()
	return s, nil
}

// Save records key's current firmware signature, moving it to the newest
// position if it was already known, evicting the oldest identity if this
// pushes the store over capacity, then persists to disk.
func (s *Store) Save(key, fwSignature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx, k := range s.order {
		if k == key {
			s.order = append(s.order[:idx], s.order[idx+1:]...)
			break
		}
	}
	s.order = append(s.order, key)
	s.signatures[key] = fwSignature
	s.evictLocked()
	return s.persistLocked()
}

func (s *Store) evictLocked() {
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.signatures, oldest)
	}
}

// GetFWSignature returns the last firmware signature recorded for key, if
// any.
func (s *Store) GetFWSignature(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.signatures[key]
	return v, ok
}

// Dump returns every recorded identity, oldest first.
func (s *Store) Dump() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.order))
	for idx, key := range s.order {
		out[idx] = Record{Key: key, FWSignature: s.signatures[key]}
	}
	return out
}

// persistLocked writes the store to disk atomically: a temp file in the
// same directory, fsynced, then renamed over the target. Callers must
// already hold s.mu.
func (s *Store) persistLocked() error {
	records := make([]Record, len(s.order))
	for idx, key := range s.order {
		records[idx] = Record{Key: key, FWSignature: s.signatures[key]}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("identitystore: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".identitystore-*.tmp")
	if err != nil {
		return fmt.Errorf("identitystore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("identitystore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("identitystore: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("identitystore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("identitystore: rename temp file: %w", err)
	}
	return nil
}
