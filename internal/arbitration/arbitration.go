// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package arbitration implements spec.md §4.8: before doing anything on a
// serial port, find any co-resident process already holding its device
// node, pause it (rather than kill it), capture the kernel's termios for
// that node, do the work, then restore both - termios first, holders
// second - on every exit path, including panic.
package arbitration

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
)

// Confirmer asks the operator whether it's OK to pause holders that
// weren't expected to be there. Returns false to abort (spec.md §4.8
// step 3). A --force run always answers true without asking.
type Confirmer func(ctx context.Context, path string, holders []Holder) (bool, error)

// Holder is one process found to have path open, spec.md §4.8 step 1.
type Holder struct {
	PID  int
	Comm string
}

// DefaultDriverProcessName is the process name filtered out of the
// "unexpected holder" set - wb-mqtt-serial itself is expected to be
// holding every port it manages, and pausing-then-prompting about it on
// every single run would make --force the only usable mode.
const DefaultDriverProcessName = "wb-mqtt-serial"

// Session is one port's arbitration: the holders paused and the termios
// captured for the duration of the work. Built by Acquire, released by
// Release.
type Session struct {
	path        string
	paused      []Holder
	savedTermio any
}

// Acquire enumerates holders of path, prompts for unexpected ones via
// confirm (skipped entirely when force is true), pauses every holder, and
// captures termios. On success the caller must call Release - typically
// via defer. On error Acquire returns a nil Session, having already resumed
// any holders it paused.
func Acquire(ctx context.Context, path string, force bool, confirm Confirmer) (*Session, error) {
	holders, err := findHolders(path)
	if err != nil {
		return nil, fmt.Errorf("arbitration: enumerate holders of %s: %w", path, err)
	}

	unexpected := filterUnexpected(holders)
	if len(unexpected) > 0 && !force {
		if confirm == nil {
			return nil, unexpectedHoldersError(path, unexpected)
		}
		ok, err := confirm(ctx, path, unexpected)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, unexpectedHoldersError(path, unexpected)
		}
	}

	sess := &Session{path: path}
	for _, h := range holders {
		if err := pause(h.PID); err != nil {
			slog.Warn("failed to pause holder, continuing", "port", path, "pid", h.PID, "comm", h.Comm, "err", err)
			continue
		}
		sess.paused = append(sess.paused, h)
	}

	termio, err := captureTermios(path)
	if err != nil {
		sess.Release()
		return nil, fmt.Errorf("arbitration: capture termios of %s: %w", path, err)
	}
	sess.savedTermio = termio

	return sess, nil
}

// Release restores termios first, then resumes every paused holder, in
// that order (spec.md §4.8 steps 6-7). Safe to call more than once and
// safe to call on a partially-constructed Session (e.g. from a deferred
// recover after a panic during Acquire's own pause loop).
func (s *Session) Release() {
	if s == nil {
		return
	}
	if s.savedTermio != nil {
		if err := restoreTermios(s.path, s.savedTermio); err != nil {
			slog.Warn("failed to restore termios", "port", s.path, "err", err)
		}
		s.savedTermio = nil
	}
	for _, h := range s.paused {
		if err := resume(h.PID); err != nil {
			slog.Warn("failed to resume holder", "port", s.path, "pid", h.PID, "comm", h.Comm, "err", err)
		}
	}
	s.paused = nil
}

func filterUnexpected(holders []Holder) []Holder {
	var out []Holder
	for _, h := range holders {
		if h.Comm == DefaultDriverProcessName {
			continue
		}
		out = append(out, h)
	}
	return out
}

func unexpectedHoldersError(path string, holders []Holder) error {
	names := make([]string, len(holders))
	for idx, h := range holders {
		names[idx] = fmt.Sprintf("%s(%d)", h.Comm, h.PID)
	}
	return &errs.UserCancelledError{Reason: fmt.Sprintf("%s is held by unexpected process(es) %v", path, names)}
}

// WithPort runs fn while path is exclusively arbitrated: holders paused,
// termios captured, guaranteed released on every exit including panic
// (spec.md §9's scoped-resource design note).
func WithPort(ctx context.Context, path string, force bool, confirm Confirmer, fn func(ctx context.Context) error) error {
	sess, err := Acquire(ctx, path, force, confirm)
	if err != nil {
		return err
	}
	defer sess.Release()
	return fn(ctx)
}
