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
	"time"

	"github.com/wirenboard/wb-fw-updater/internal/driverconfig"
	"github.com/wirenboard/wb-fw-updater/internal/identitystore"
	"github.com/wirenboard/wb-fw-updater/internal/orchestrator"
	"github.com/wirenboard/wb-fw-updater/internal/prober"
)

// bulkFlags is the --driver-config group update-all and recover-all share,
// on top of the common release flags (spec.md §6).
type bulkFlags struct {
	driverConfig string
}

func (f *bulkFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.driverConfig, "driver-config", "", "path to wb-mqtt-serial's JSON config, empty for its default search path")
}

// loadSpecs reads the driver configuration and turns every addressable
// device into a prober.ProbeSpec, reporting (not probing) anything
// driverconfig.Load could not resolve to a bare slave id.
func loadSpecs(path string) ([]prober.ProbeSpec, error) {
	devices, err := driverconfig.Load(path)
	if err != nil {
		return nil, err
	}
	specs := make([]prober.ProbeSpec, 0, len(devices))
	for _, dev := range devices {
		if dev.Skip {
			fmt.Fprintf(os.Stderr, "%s: unresolvable slave id, skipping\n", dev.Name)
			continue
		}
		timeout := prober.EffectiveTimeout(
			msToDuration(dev.PortResponseTimeoutMS),
			msToDuration(dev.ResponseTimeoutMS),
		)
		specs = append(specs, prober.ProbeSpec{
			Name:     dev.Name,
			SlaveID:  dev.SlaveID,
			Port:     dev.Port,
			Settings: dev.Settings,
			Timeout:  timeout,
		})
	}
	return specs, nil
}

func runUpdateAll(ctx context.Context, rc RunConfig, args []string) int {
	fs := flag.NewFlagSet("update-all", flag.ExitOnError)
	var bf bulkFlags
	var rf releaseFlags
	bf.register(fs)
	rf.register(fs)

	version := fs.String("version", orchestrator.VersionRelease, "release, latest, or an explicit version string")
	branch := fs.String("branch", "", "branch to resolve latest/release against")
	force := fs.Bool("force", false, "skip confirmations and arbitration prompts")
	allowDowngrade := fs.Bool("allow-downgrade", false, "allow flashing an older firmware version")
	fs.Parse(args)

	specs, err := loadSpecs(bf.driverConfig)
	if err != nil {
		slog.Error("failed to load driver config", "err", err)
		return 1
	}

	exec, err := rf.buildExecutor(rc, *force)
	if err != nil {
		slog.Error("failed to build orchestrator", "err", err)
		return 1
	}

	identity, err := identitystore.Load(rf.identityPath, rf.identityCap)
	if err != nil {
		slog.Error("failed to load identity store", "err", err)
		return 1
	}

	req := orchestrator.FlashRequest{
		Target:         orchestrator.TargetFirmware,
		Version:        *version,
		Branch:         *branch,
		Force:          *force,
		AllowDowngrade: *allowDowngrade,
	}

	results := exec.UpdateAll(ctx, specs, identity, req)
	return reportBulk(results)
}

func runRecoverAll(ctx context.Context, rc RunConfig, args []string) int {
	fs := flag.NewFlagSet("recover-all", flag.ExitOnError)
	var bf bulkFlags
	var rf releaseFlags
	bf.register(fs)
	rf.register(fs)

	branch := fs.String("branch", "", "branch to resolve latest/release against")
	force := fs.Bool("force", false, "skip confirmations and arbitration prompts")
	allowDowngrade := fs.Bool("allow-downgrade", false, "allow flashing an older firmware version")
	model := fs.String("model", "", "fall back to this model's known signature for every recovered device")
	fs.Parse(args)

	specs, err := loadSpecs(bf.driverConfig)
	if err != nil {
		slog.Error("failed to load driver config", "err", err)
		return 1
	}

	exec, err := rf.buildExecutor(rc, *force)
	if err != nil {
		slog.Error("failed to build orchestrator", "err", err)
		return 1
	}

	identity, err := identitystore.Load(rf.identityPath, rf.identityCap)
	if err != nil {
		slog.Error("failed to load identity store", "err", err)
		return 1
	}

	req := orchestrator.FlashRequest{
		Target:         orchestrator.TargetFirmware,
		Version:        orchestrator.VersionLatest,
		Branch:         *branch,
		Force:          *force,
		AllowDowngrade: *allowDowngrade,
	}

	results := exec.RecoverAll(ctx, specs, identity, *model, req)
	return reportBulk(results)
}

// reportBulk prints one line per device and returns 1 if any device
// produced a hard error - a skipped or not-applicable outcome is not a
// failure of the bulk run itself.
func reportBulk(results []orchestrator.BulkResult) int {
	failed := false
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(os.Stderr, "%s (%s): error: %v\n", r.Device, r.Port, r.Err)
			failed = true
		case r.Flash.Flashed:
			fmt.Fprintf(os.Stderr, "%s (%s): flashed %s\n", r.Device, r.Port, r.Flash.ResolvedVersion)
		case r.Flash.SkipReason != "":
			fmt.Fprintf(os.Stderr, "%s (%s): skipped (%s)\n", r.Device, r.Port, r.Flash.SkipReason)
		default:
			fmt.Fprintf(os.Stderr, "%s (%s): %s\n", r.Device, r.Port, r.Outcome)
		}
	}
	if failed {
		return 1
	}
	return 0
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
