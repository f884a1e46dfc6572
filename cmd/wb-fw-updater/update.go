// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/wirenboard/wb-fw-updater/internal/arbitration"
	"github.com/wirenboard/wb-fw-updater/internal/device"
	"github.com/wirenboard/wb-fw-updater/internal/orchestrator"
	"github.com/wirenboard/wb-fw-updater/internal/prober"
	"github.com/wirenboard/wb-fw-updater/internal/transport"
)

// deviceFlags is the --port/--slave-id/--uart-settings/--timeout-ms/--echo-skip group
// every single-device command shares (spec.md §6's `update` flag list).
type deviceFlags struct {
	port        string
	slaveID     int
	uartSetting string
	timeoutMS   int
	echoSkip    bool
}

func (f *deviceFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.port, "port", "", "serial port device node, e.g. /dev/ttyRS485-1")
	fs.IntVar(&f.slaveID, "slave-id", 0, "Modbus slave id")
	fs.StringVar(&f.uartSetting, "uart-settings", "9600N2", "UART settings, e.g. 9600N2")
	fs.IntVar(&f.timeoutMS, "timeout-ms", 0, "per-call response timeout override in milliseconds, 0 = use the prober's default floor")
	fs.BoolVar(&f.echoSkip, "echo-skip", false, "discard leading half-duplex echo noise before the slave/function marker (spec.md §4.1 foregoing noise cancellation)")
}

func (f *deviceFlags) settings() (transport.SerialSettings, error) {
	settings, err := transport.ParseSettings(f.uartSetting)
	if err != nil {
		return transport.SerialSettings{}, err
	}
	settings.EchoSkip = f.echoSkip
	return settings, nil
}

func (f *deviceFlags) timeout() time.Duration {
	if f.timeoutMS <= 0 {
		return prober.EffectiveTimeout(0, 0)
	}
	return time.Duration(f.timeoutMS) * time.Millisecond
}

func runUpdate(ctx context.Context, rc RunConfig, forcedTarget orchestrator.Target, args []string) int {
	name := "update"
	if forcedTarget == orchestrator.TargetBootloader {
		name = "update-bl"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	var df deviceFlags
	var rf releaseFlags
	df.register(fs)
	rf.register(fs)

	version := fs.String("version", orchestrator.VersionRelease, "release, latest, or an explicit version string")
	branch := fs.String("branch", "", "branch to resolve latest/release against")
	mode := fs.String("mode", "fw", "fw or bootloader")
	force := fs.Bool("force", false, "skip confirmations and arbitration prompts")
	allowDowngrade := fs.Bool("allow-downgrade", false, "allow flashing an older firmware version")
	eraseSettings := fs.Bool("erase-settings", false, "erase the bootloader's settings EEPROM and exit, no flashing")
	eraseUARTOnly := fs.Bool("erase-uart-only", false, "reset the bootloader's UART peripheral and exit, no flashing")
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

	dev, err := openDevice(name, df.port, df.slaveID, settings, df.timeout())
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
	if *mode == "bootloader" || forcedTarget == orchestrator.TargetBootloader {
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
		if *eraseSettings || *eraseUARTOnly {
			return doEraseOnly(ctx, exec, dev, *eraseSettings, *eraseUARTOnly)
		}
		return doUpdate(ctx, exec, dev, req)
	})
	if runErr != nil {
		slog.Error("update failed", "device", dev.Ident(), "err", runErr)
		return 1
	}
	return 0
}

func doEraseOnly(ctx context.Context, exec *orchestrator.Executor, dev *device.Device, eraseSettings, eraseUARTOnly bool) error {
	if err := dev.RebootToBootloader(ctx); err != nil {
		return fmt.Errorf("reboot to bootloader: %w", err)
	}
	if eraseSettings {
		return exec.EraseSettings(ctx, dev)
	}
	return exec.EraseUARTOnly(ctx, dev)
}

func doUpdate(ctx context.Context, exec *orchestrator.Executor, dev *device.Device, req orchestrator.FlashRequest) error {
	result, err := prober.ProbeDevice(ctx, dev)
	if err != nil {
		return err
	}
	switch result.Outcome {
	case prober.Alive:
		outcome, err := exec.Execute(ctx, result.Device, result.FWSignature, prober.IdentityKey(result.Device.Port, result.Device.SlaveID), req)
		if err != nil {
			return err
		}
		reportOutcome(result.Device.Ident(), outcome)
		return nil
	case prober.InBootloader:
		return errors.New("device is already in its bootloader; use the recover command")
	default:
		fmt.Fprintf(os.Stderr, "%s: %s\n", dev.Ident(), result.Outcome)
		return nil
	}
}

func reportOutcome(ident string, outcome orchestrator.FlashOutcome) {
	if outcome.Flashed {
		fmt.Fprintf(os.Stderr, "%s: flashed %s\n", ident, outcome.ResolvedVersion)
		return
	}
	fmt.Fprintf(os.Stderr, "%s: skipped (%s), candidate version %s\n", ident, outcome.SkipReason, outcome.ResolvedVersion)
}
