// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wirenboard/wb-fw-updater/internal/arbitration"
	"github.com/wirenboard/wb-fw-updater/internal/device"
	"github.com/wirenboard/wb-fw-updater/internal/downloadcache"
	"github.com/wirenboard/wb-fw-updater/internal/identitystore"
	"github.com/wirenboard/wb-fw-updater/internal/instrument"
	"github.com/wirenboard/wb-fw-updater/internal/orchestrator"
	"github.com/wirenboard/wb-fw-updater/internal/release"
	"github.com/wirenboard/wb-fw-updater/internal/transport"
)

// releaseFlags is the set of flags every command that resolves a download
// needs: where the release manifest lives, where artifacts are cached,
// and which slice of the release universe to resolve against.
type releaseFlags struct {
	manifestPath   string
	rootURL        string
	cacheDir       string
	suite          string
	target         string
	identityPath   string
	identityCap    int
}

func (f *releaseFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.manifestPath, "release-manifest", "/etc/wb-fw-updater/releases.yaml", "local path to the release manifest (YAML)")
	fs.StringVar(&f.rootURL, "root-url", "https://fw-releases.wirenboard.com", "remote store root URL (spec.md §6 remote store layout)")
	fs.StringVar(&f.cacheDir, "cache-dir", "/var/cache/wb-fw-updater", "local download cache directory")
	fs.StringVar(&f.suite, "suite", "stable", "release suite to resolve against (stable, testing, unstable)")
	fs.StringVar(&f.target, "target", "", "firmware repo target, e.g. wb-mrm2-fw")
	fs.StringVar(&f.identityPath, "identity-store", "/var/lib/wb-fw-updater/identity.json", "path to the persisted identity store")
	fs.IntVar(&f.identityCap, "identity-store-capacity", identitystore.DefaultCapacity, "maximum identity store entries")
}

// buildExecutor wires an orchestrator.Executor from the parsed flags: the
// release manifest, the download cache (backed by downloadcache.HTTPStore),
// the identity store, and a stdin-driven Confirmer gated on interactivity.
func (f *releaseFlags) buildExecutor(rc RunConfig, force bool) (*orchestrator.Executor, error) {
	manifest, err := release.Load(f.manifestPath)
	if err != nil {
		return nil, err
	}
	identity, err := identitystore.Load(f.identityPath, f.identityCap)
	if err != nil {
		return nil, err
	}
	store := downloadcache.NewHTTPStore(nil)
	cache := downloadcache.New(f.cacheDir, store)

	return &orchestrator.Executor{
		Cache:      cache,
		Manifest:   manifest,
		ReleaseCtx: release.Context{Suite: f.suite, Target: f.target, RepoPrefix: f.rootURL},
		Latest:     &orchestrator.LatestResolver{Store: store, RootURL: f.rootURL},
		Identity:   identity,
		Confirm:    stdinConfirmer(rc),
		Progress:   progressReporter(),
	}, nil
}

// stdinConfirmer implements the yes/no prompts Executor.Confirm and
// arbitration.Confirmer need. When the session isn't interactive
// (WBGSM_INTERACTIVE unset), it returns nil: Executor then declines every
// confirmation gate (only --force gets past one), and the offer to flash a
// newer bootloader first proceeds with a warning instead of a prompt.
func stdinConfirmer(rc RunConfig) orchestrator.ConfirmFunc {
	if !rc.Interactive {
		return nil
	}
	return func(ctx context.Context, prompt string) (bool, error) {
		return askYesNo(prompt)
	}
}

func arbitrationConfirmer(rc RunConfig) arbitration.Confirmer {
	if !rc.Interactive {
		return nil
	}
	return func(ctx context.Context, path string, holders []arbitration.Holder) (bool, error) {
		names := make([]string, len(holders))
		for idx, h := range holders {
			names[idx] = fmt.Sprintf("%s(%d)", h.Comm, h.PID)
		}
		return askYesNo(fmt.Sprintf("%s is held by %s, pause them and continue?", path, strings.Join(names, ", ")))
	}
}

func askYesNo(prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// progressReporter renders the DATA-phase pull stream (SPEC_FULL.md §C.1)
// as a single overwritten stderr line rather than coupling the protocol
// layer to any particular UI toolkit (spec.md §9's generators/progress-bars
// design note).
func progressReporter() func(sent, total int) {
	return func(sent, total int) {
		fmt.Fprintf(os.Stderr, "\rflashing: chunk %d/%d", sent, total)
		if sent == total {
			fmt.Fprintln(os.Stderr)
		}
	}
}

// openDevice opens a Transport/Instrument/Device for one explicitly
// addressed (port, slave id) pair, the shape every single-device command
// (update, recover, update-bl) starts from.
func openDevice(name, port string, slaveID int, settings transport.SerialSettings, timeout time.Duration) (*device.Device, error) {
	tr, err := transport.Open(port, settings)
	if err != nil {
		return nil, err
	}
	inst := instrument.New(tr, byte(slaveID), timeout)
	return device.New(name, slaveID, port, inst), nil
}

// exitCode returns 0 for a nil error and 1 for any error; error kinds are
// not mapped to distinct exit codes.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
