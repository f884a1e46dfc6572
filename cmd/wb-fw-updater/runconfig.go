// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"log/slog"
	"os"
)

// RunConfig is the immutable bundle of process-wide settings threaded from
// main into every subcommand, per SPEC_FULL.md §A.1's note against
// package-level mutable globals (spec.md §9's Release-info-singleton
// redesign flag).
type RunConfig struct {
	// Interactive mirrors WBGSM_INTERACTIVE (spec.md §6): a non-empty value
	// means stdin is a real operator who can be prompted before a
	// bootloader update proceeds.
	Interactive bool
}

func loadRunConfig() RunConfig {
	return RunConfig{Interactive: os.Getenv("WBGSM_INTERACTIVE") != ""}
}

func setupLogger(debug bool) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}
