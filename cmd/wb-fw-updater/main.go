// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command wb-fw-updater drives Wiren Board Modbus-RTU device firmware and
// bootloader updates over RS-485, spec.md §6's external interface: update,
// recover, update-all, recover-all and update-bl subcommands, each taking
// its flags after the subcommand name in the conventional Go CLI style
// (cf. the teacher's own single flag.FlagSet per invocation).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wirenboard/wb-fw-updater/internal/orchestrator"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		usage()
		return 2
	}

	debug := os.Getenv("WBGSM_DEBUG") != ""
	setupLogger(debug)
	rc := loadRunConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "update":
		return runUpdate(ctx, rc, orchestrator.TargetFirmware, args)
	case "update-bl":
		return runUpdate(ctx, rc, orchestrator.TargetBootloader, args)
	case "recover":
		return runRecover(ctx, rc, args)
	case "update-all":
		return runUpdateAll(ctx, rc, args)
	case "recover-all":
		return runRecoverAll(ctx, rc, args)
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "wb-fw-updater: unknown command %q\n", cmd)
		usage()
		return 2
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: wb-fw-updater <command> [flags]

commands:
  update        flash a single device's firmware
  update-bl     flash a single device's bootloader
  recover       recover a device stuck in its bootloader
  update-all    flash every device in the wb-mqtt-serial driver config
  recover-all   recover every bootloader-stuck device in the driver config

run "wb-fw-updater <command> -h" for a command's flags.`)
}
