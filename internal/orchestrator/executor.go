// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wirenboard/wb-fw-updater/internal/device"
	"github.com/wirenboard/wb-fw-updater/internal/downloadcache"
	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/internal/flasher"
	"github.com/wirenboard/wb-fw-updater/internal/identitystore"
	"github.com/wirenboard/wb-fw-updater/internal/release"
	"github.com/wirenboard/wb-fw-updater/internal/transport"
	"github.com/wirenboard/wb-fw-updater/internal/version"
	"github.com/wirenboard/wb-fw-updater/internal/wbfw"
)

// Target names which image a FlashRequest addresses.
type Target string

const (
	TargetFirmware   Target = "fw"
	TargetBootloader Target = "bootloader"
)

// ConfirmFunc asks the operator a yes/no question - a major-version bump,
// a bootloader-ahead-of-firmware offer, or a user-data-not-preserved
// warning. Returning false declines. A nil ConfirmFunc means "never
// interactive"; only --force can get past a gate that needs one.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// FlashRequest is everything the CLI's update/update-bl commands (spec.md
// §6) gather before calling Executor.Execute.
type FlashRequest struct {
	Target         Target
	Version        string // VersionRelease (default), VersionLatest, or an explicit version string
	Branch         string
	Force          bool
	AllowDowngrade bool

	// skipUserDataCheck is set internally when Execute recurses to flash a
	// bootloader ahead of firmware (spec.md §4.7 step 2: "without
	// user-data-saving check, since bootloader images are small").
	skipUserDataCheck bool
}

// FlashOutcome reports what Execute actually did.
type FlashOutcome struct {
	Flashed         bool
	SkipReason      SkipReason
	ResolvedVersion string
}

// Executor drives spec.md §4.7's update executor (_do_flash) against one
// device already known to be Alive (internal/prober.Result).
type Executor struct {
	Cache      *downloadcache.Cache
	Manifest   *release.Manifest
	ReleaseCtx release.Context
	Latest     *LatestResolver
	Identity   *identitystore.Store
	Confirm    ConfirmFunc
	// Progress is forwarded to the Flasher's DATA-phase callback
	// (SPEC_FULL.md §C.1's pull-style chunk_index/total stream).
	Progress func(sent, total int)
}

func (e *Executor) confirm(ctx context.Context, prompt string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	if e.Confirm == nil {
		return false, nil
	}
	return e.Confirm(ctx, prompt)
}

// Execute implements spec.md §4.7's _do_flash for one device already
// probed Alive. fwSignature and identityKey come from the probe that found
// it; identityKey is the same (port, slave_id) key internal/prober.ProbeAll
// saves under.
func (e *Executor) Execute(ctx context.Context, dev *device.Device, fwSignature, identityKey string, req FlashRequest) (FlashOutcome, error) {
	originalSettings := dev.Instrument.Settings()
	originalTimeout := dev.Instrument.Timeout
	defer func() {
		dev.Instrument.SetSettings(originalSettings)
		dev.Instrument.Timeout = originalTimeout
	}()

	mode := string(req.Target)
	actual, err := e.actualVersion(ctx, dev, req.Target)
	if err != nil {
		return FlashOutcome{}, err
	}

	path, resolvedVersion, err := ResolveDownload(ctx, e.Cache, e.Manifest, e.ReleaseCtx, e.Latest, fwSignature, req.Version, req.Branch, mode)
	if err != nil {
		return FlashOutcome{}, err
	}
	provided, err := version.Parse(resolvedVersion)
	if err != nil {
		return FlashOutcome{}, err
	}

	flash, reason, err := e.decide(actual, provided, req)
	if err != nil {
		return FlashOutcome{}, err
	}
	if !flash {
		return FlashOutcome{SkipReason: reason, ResolvedVersion: resolvedVersion}, nil
	}

	if MajorBumped(actual, provided) {
		ok, err := e.confirm(ctx, fmt.Sprintf("%s: %s is a major version bump (%s -> %s), continue?", dev.Ident(), req.Target, actual, provided), req.Force)
		if err != nil {
			return FlashOutcome{}, err
		}
		if !ok {
			return FlashOutcome{}, &errs.UserCancelledError{Reason: "major version bump not confirmed"}
		}
	}

	if req.Target == TargetFirmware {
		if err := e.maybeFlashNewerBootloaderFirst(ctx, dev, fwSignature, identityKey); err != nil {
			return FlashOutcome{}, err
		}
	}

	if err := dev.RebootToBootloader(ctx); err != nil {
		return FlashOutcome{}, &errs.UpdateDeviceError{Reason: "reboot to bootloader: " + err.Error()}
	}
	if err := settleBootloaderSpeed(ctx, dev, originalSettings); err != nil {
		return FlashOutcome{}, err
	}

	if err := e.flashArtifact(ctx, dev, path, req); err != nil {
		return FlashOutcome{}, err
	}

	if e.Identity != nil && identityKey != "" {
		if err := e.Identity.Save(identityKey, fwSignature); err != nil {
			slog.Warn("failed to persist identity after flash", "device", dev.Ident(), "err", err)
		}
	}

	if req.Target == TargetBootloader {
		if _, err := e.Execute(ctx, dev, fwSignature, identityKey, FlashRequest{Target: TargetFirmware, Version: VersionRelease}); err != nil {
			return FlashOutcome{}, fmt.Errorf("orchestrator: chain-flashing released firmware after bootloader update: %w", err)
		}
	}

	return FlashOutcome{Flashed: true, ResolvedVersion: resolvedVersion}, nil
}

func (e *Executor) decide(actual, provided version.Version, req FlashRequest) (bool, SkipReason, error) {
	if req.Target == TargetBootloader {
		flash, reason, allowed := IsBootloaderReflashNecessary(actual, provided, req.Force)
		if !allowed {
			return false, SkipNone, &errs.UpdateDeviceError{
				Reason: fmt.Sprintf("bootloader downgrade %s -> %s is never permitted", actual, provided),
			}
		}
		return flash, reason, nil
	}
	flash, reason := IsReflashNecessary(actual, provided, req.Force, req.AllowDowngrade)
	return flash, reason, nil
}

func (e *Executor) actualVersion(ctx context.Context, dev *device.Device, target Target) (version.Version, error) {
	var s string
	var err error
	if target == TargetBootloader {
		s, err = dev.BootloaderVersion(ctx)
	} else {
		s, err = dev.FWVersion(ctx)
	}
	if err != nil {
		return version.Version{}, err
	}
	return version.Parse(s)
}

// maybeFlashNewerBootloaderFirst implements spec.md §4.7 step 2: if a
// newer bootloader than the one currently on the device has been
// released, offer to flash it before the firmware - an interactive prompt
// when e.Confirm is set, otherwise just a warning that proceeds anyway.
func (e *Executor) maybeFlashNewerBootloaderFirst(ctx context.Context, dev *device.Device, fwSignature, identityKey string) error {
	actualStr, err := dev.BootloaderVersion(ctx)
	if err != nil {
		// Older devices don't expose a bootloader version register while
		// alive; nothing to chain-flash against.
		return nil
	}
	actual, err := version.Parse(actualStr)
	if err != nil {
		return nil
	}
	_, resolvedVersion, err := ResolveDownload(ctx, e.Cache, e.Manifest, e.ReleaseCtx, e.Latest, fwSignature, VersionRelease, "", string(TargetBootloader))
	if err != nil {
		// No released bootloader for this signature: nothing to do.
		return nil
	}
	provided, err := version.Parse(resolvedVersion)
	if err != nil || !actual.Less(provided) {
		return nil
	}

	prompt := fmt.Sprintf("%s: a newer bootloader is available (%s -> %s), flash it first?", dev.Ident(), actual, provided)
	if e.Confirm != nil {
		ok, err := e.Confirm(ctx, prompt)
		if err != nil {
			return err
		}
		if !ok {
			slog.Warn("skipping newer bootloader", "device", dev.Ident(), "from", actual.String(), "to", provided.String())
			return nil
		}
	} else {
		slog.Warn("flashing newer bootloader ahead of firmware", "device", dev.Ident(), "from", actual.String(), "to", provided.String())
	}

	_, err = e.Execute(ctx, dev, fwSignature, identityKey, FlashRequest{Target: TargetBootloader, Version: VersionRelease, skipUserDataCheck: true})
	return err
}

// settleBootloaderSpeed implements spec.md §4.7 step 4: try the line
// speed the device was just running at (most bootloaders keep it), and
// fall back to 9600-N-2 - the one speed every Wiren Board bootloader is
// guaranteed to answer on - if that doesn't get a response.
func settleBootloaderSpeed(ctx context.Context, dev *device.Device, currentSettings transport.SerialSettings) error {
	if err := dev.Instrument.SetSettings(currentSettings); err == nil {
		if _, err := dev.BootloaderVersion(ctx); err == nil {
			return nil
		}
	}
	return dev.Instrument.SetSettings(transport.DefaultBootloaderSettings)
}

// flashArtifact implements spec.md §4.7 step 5: parse the WBFW artifact,
// check user-data preservation against the bootloader's free-space
// register when it's new enough to report one, then stream it.
func (e *Executor) flashArtifact(ctx context.Context, dev *device.Device, path string, req FlashRequest) error {
	art, err := wbfw.Parse(path)
	if err != nil {
		return err
	}
	f := flasher.New(dev, art)

	if !req.skipUserDataCheck {
		if blVersion, err := dev.BootloaderVersion(ctx); err == nil {
			if preserved, err := f.UserDataPreserved(ctx, blVersion); err == nil && !preserved {
				ok, cerr := e.confirm(ctx, fmt.Sprintf("%s: user data will NOT be preserved by this flash, continue?", dev.Ident()), req.Force)
				if cerr != nil {
					return cerr
				}
				if !ok {
					return &errs.UserCancelledError{Reason: "user data not preserved"}
				}
			}
		}
	}

	return f.Run(ctx, e.Progress)
}

// EraseUARTOnly implements the --erase-uart-only CLI flag (SPEC_FULL.md
// §C.1): a standalone bootloader command, no artifact involved. The
// caller must already have rebooted dev into its bootloader.
func (e *Executor) EraseUARTOnly(ctx context.Context, dev *device.Device) error {
	return flasher.New(dev, nil).ResetUART(ctx)
}

// EraseSettings implements the --erase-settings CLI flag.
func (e *Executor) EraseSettings(ctx context.Context, dev *device.Device) error {
	return flasher.New(dev, nil).EraseEEPROM(ctx)
}
