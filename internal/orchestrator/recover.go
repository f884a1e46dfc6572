// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/wirenboard/wb-fw-updater/internal/device"
	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/internal/prober"
)

// recoveryBranch is the branch _do_download falls back to when a device
// stuck in its bootloader has no release published under the suite the
// manifest was loaded for - spec.md §4.7's "or, on prompt, fall back to
// latest on master".
const recoveryBranch = "master"

// RecoverDevice implements spec.md §4.7's recover_device_iteration for one
// device already classified in_bootloader by internal/prober. model, if
// non-empty, is the --model flag's fallback identity source.
func (e *Executor) RecoverDevice(ctx context.Context, result prober.Result, model string, req FlashRequest) (FlashOutcome, error) {
	dev := result.Device
	identityKey := prober.IdentityKey(dev.Port, dev.SlaveID)

	fwSignature, err := e.resolveRecoverySignature(ctx, dev, identityKey, model)
	if err != nil {
		return FlashOutcome{}, err
	}
	if fwSignature == "" {
		return FlashOutcome{SkipReason: SkipUnknownSignature}, nil
	}

	return e.FlashKnownSignature(ctx, dev, fwSignature, req)
}

// FlashKnownSignature flashes a device already sitting in its bootloader
// against an explicitly-known firmware signature, bypassing both the
// bootloader's self-reported signature and the identity store - the
// `recover --fw-sig` path (spec.md §6).
func (e *Executor) FlashKnownSignature(ctx context.Context, dev *device.Device, fwSignature string, req FlashRequest) (FlashOutcome, error) {
	if req.Target == "" {
		req.Target = TargetFirmware
	}
	mode := string(req.Target)
	identityKey := prober.IdentityKey(dev.Port, dev.SlaveID)

	path, resolvedVersion, err := ResolveDownload(ctx, e.Cache, e.Manifest, e.ReleaseCtx, e.Latest, fwSignature, req.Version, req.Branch, mode)
	var noRelease *errs.NoReleasedFwError
	if errors.As(err, &noRelease) {
		path, resolvedVersion, err = e.fallbackToMasterLatest(ctx, dev, fwSignature, mode, req.Force)
	}
	if err != nil {
		return FlashOutcome{}, err
	}

	if err := e.flashArtifact(ctx, dev, path, req); err != nil {
		return FlashOutcome{}, err
	}

	if e.Identity != nil {
		if err := e.Identity.Save(identityKey, fwSignature); err != nil {
			return FlashOutcome{Flashed: true, ResolvedVersion: resolvedVersion}, fmt.Errorf("orchestrator: persist identity after recovery: %w", err)
		}
	}

	return FlashOutcome{Flashed: true, ResolvedVersion: resolvedVersion}, nil
}

// resolveRecoverySignature implements the three-step fallback spec.md
// §4.7 prescribes: the bootloader's own self-reported signature first,
// then the identity store, then the --model table. An empty return with a
// nil error means none of the three produced an answer.
func (e *Executor) resolveRecoverySignature(ctx context.Context, dev *device.Device, identityKey, model string) (string, error) {
	if sig, ok, err := dev.BootloaderFwSignature(ctx); err != nil {
		return "", err
	} else if ok {
		return sig, nil
	}

	if e.Identity != nil {
		if sig, ok := e.Identity.GetFWSignature(identityKey); ok {
			return sig, nil
		}
	}

	if model != "" {
		if sig, ok := device.SignatureForModel(model); ok {
			return sig, nil
		}
	}

	return "", nil
}

// fallbackToMasterLatest implements the "or, on prompt, fall back to
// latest on master" half of recover_device_iteration: offered only when
// the release manifest has nothing published for fwSignature under the
// configured suite.
func (e *Executor) fallbackToMasterLatest(ctx context.Context, dev *device.Device, fwSignature, mode string, force bool) (string, string, error) {
	prompt := fmt.Sprintf("%s: no release is published for signature %s, fall back to the latest build on %s?", dev.Ident(), fwSignature, recoveryBranch)
	ok, err := e.confirm(ctx, prompt, force)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", &errs.UserCancelledError{Reason: "declined fallback to latest on " + recoveryBranch}
	}
	return ResolveDownload(ctx, e.Cache, e.Manifest, e.ReleaseCtx, e.Latest, fwSignature, VersionLatest, recoveryBranch, mode)
}
