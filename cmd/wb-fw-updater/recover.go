// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/wirenboard/wb-fw-updater/internal/arbitration"
	"github.com/wirenboard/wb-fw-updater/internal/orchestrator"
	"github.com/wirenboard/wb-fw-updater/internal/prober"
)

// runRecover implements spec.md §6's `recover` command: as `update` plus
// `--fw-sig` (bypass the identity store and the bootloader's own
// self-reported signature entirely) and `--model` (the static model table
// fallback, SPEC_FULL.md §C.1).
func runRecover(ctx context.Context, rc RunConfig, args []string) int {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	var df deviceFlags
	var rf releaseFlags
	df.register(fs)
	rf.register(fs)

	version := fs.String("version", orchestrator.VersionRelease, "release, latest, or an explicit version string")
	branch := fs.String("branch", "", "branch to resolve latest/release against")
	mode := fs.String("mode", "fw", "fw or bootloader")
	force := fs.Bool("force", false, "skip confirmations and arbitration prompts")
	allowDowngrade := fs.Bool("allow-downgrade", false, "allow flashing an older firmware version")
	fwSig := fs.String("fw-sig", "", "bypass the bootloader's self-reported signature and the identity store")
	model := fs.String("model", "", "fall back to this model's known signature (SignatureForModel)")
	fs.Parse(args)

	settings, err := df.settings()
	if err != nil {
		slog.Error("invalid uart settings", "err", err)
		return 1
	}
	if df.port == "" {
		slog.Error("--port is required")
		return 1
	}

	dev, err := openDevice("recover", df.port, df.slaveID, settings, df.timeout())
	if err != nil {
		slog.Error("failed to open device", "err", err)
		return 1
	}

	exec, err := rf.buildExecutor(rc, *force)
	if err != nil {
		slog.Error("failed to build orchestrator", "err", err)
		return 1
	}

	target := orchestrator.TargetFirmware
	if *mode == "bootloader" {
		target = orchestrator.TargetBootloader
	}
	req := orchestrator.FlashRequest{
		Target:         target,
		Version:        *version,
		Branch:         *branch,
		Force:          *force,
		AllowDowngrade: *allowDowngrade,
	}

	runErr := arbitration.WithPort(ctx, df.port, *force, arbitrationConfirmer(rc), func(ctx context.Context) error {
		result, err := prober.ProbeDevice(ctx, dev)
		if err != nil {
			return err
		}
		if result.Outcome != prober.InBootloader {
			fmt.Fprintf(os.Stderr, "%s: %s, nothing to recover\n", dev.Ident(), result.Outcome)
			return nil
		}
		outcome, err := recoverWithOverride(ctx, exec, result, *fwSig, *model, req)
		if err != nil {
			return err
		}
		reportOutcome(dev.Ident(), outcome)
		return nil
	})
	if runErr != nil {
		slog.Error("recover failed", "device", dev.Ident(), "err", runErr)
		return 1
	}
	return 0
}

// recoverWithOverride bypasses RecoverDevice's own signature resolution
// entirely when fwSig is given explicitly, otherwise defers to it.
func recoverWithOverride(ctx context.Context, exec *orchestrator.Executor, result prober.Result, fwSig, model string, req orchestrator.FlashRequest) (orchestrator.FlashOutcome, error) {
	if fwSig == "" {
		return exec.RecoverDevice(ctx, result, model, req)
	}
	return exec.FlashKnownSignature(ctx, result.Device, fwSig, req)
}
