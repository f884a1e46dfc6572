// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package flasher drives the Modbus-in-bootloader flashing protocol:
// spec.md §4.5's READY -> INFO_SENT -> DATA_STREAMING -> DONE state
// machine, built on top of internal/device and an already-parsed
// internal/wbfw.Artifact.
package flasher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wirenboard/wb-fw-updater/internal/device"
	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/internal/version"
	"github.com/wirenboard/wb-fw-updater/internal/wbfw"
)

// Bootloader protocol registers, spec.md §4.5.
const (
	InfoBlockStart = 0x1000
	DataBlockStart = 0x2000

	UARTResetReg   = 1000
	EEPROMEraseReg = 1001
	FreeSpaceReg   = 1003
)

// infoBlockMagicExtraTimeout is added on top of the instrument's normal
// per-call timeout for the INFO write alone: the bootloader erases its
// staging area synchronously on that one call, spec.md §4.5.
const infoBlockMagicExtraTimeout = time.Second

// userDataPreservationMinVersion is the first bootloader release that
// reports FreeSpaceReg at all; older bootloaders simply don't have the
// register, so the check is skipped rather than failed.
var userDataPreservationMinVersion = version.Version{Major: 1, Minor: 2, Patch: 0}

// State is a position in the flashing state machine.
type State int

const (
	Ready State = iota
	InfoSent
	DataStreaming
	Done
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case InfoSent:
		return "info_sent"
	case DataStreaming:
		return "data_streaming"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Flasher streams one wbfw.Artifact to one Device already confirmed to be
// sitting in its bootloader.
type Flasher struct {
	dev   *device.Device
	art   *wbfw.Artifact
	state State
}

// New builds a Flasher. Callers must have already verified dev is in
// bootloader mode (device.Device.IsInBootloader) before calling Run.
func New(dev *device.Device, art *wbfw.Artifact) *Flasher {
	return &Flasher{dev: dev, art: art, state: Ready}
}

// State reports the current position in the state machine, mainly for
// progress reporting (SPEC_FULL.md §C.1).
func (f *Flasher) State() State { return f.state }

// Run drives the full INFO -> DATA -> DONE sequence. progress, if non-nil,
// is called after each DATA chunk that was written successfully, with the
// 1-based chunk index and the total chunk count; a failed chunk is not
// reported.
func (f *Flasher) Run(ctx context.Context, progress func(sent, total int)) error {
	if err := f.sendInfo(ctx); err != nil {
		return err
	}
	if err := f.sendData(ctx, progress); err != nil {
		return err
	}
	f.state = Done
	return nil
}

func (f *Flasher) sendInfo(ctx context.Context) error {
	inst := f.dev.Instrument.WithTimeout(f.dev.Instrument.Timeout + infoBlockMagicExtraTimeout)
	if err := inst.WriteU16Block(ctx, InfoBlockStart, f.art.Info[:]); err != nil {
		return &errs.BootloaderCmdError{Reason: "INFO block rejected: " + err.Error()}
	}
	f.state = InfoSent
	return nil
}

// sendData streams each DATA chunk in order. It tolerates a transient
// chunk-write failure as long as the next chunk succeeds: a lone failed
// chunk is skipped over and the run continues (any number of such
// isolated failures are tolerated), but two consecutive failures abort it, since that is no longer noise - the bootloader has
// likely dropped off the bus (spec.md §4.5).
func (f *Flasher) sendData(ctx context.Context, progress func(sent, total int)) error {
	f.state = DataStreaming
	consecutiveFailures := 0
	total := len(f.art.Chunks)

	for idx, chunk := range f.art.Chunks {
		addr := DataBlockStart + wbfw.ChunkOffset(idx)
		err := f.dev.Instrument.WriteU16Block(ctx, addr, chunk)
		if err != nil {
			consecutiveFailures++
			slog.Warn("DATA chunk write failed", "device", f.dev.Ident(), "chunk", idx, "error", err)
			if consecutiveFailures >= 2 {
				return f.abortDataPhase(ctx, idx, err)
			}
			continue
		}
		consecutiveFailures = 0
		if progress != nil {
			progress(idx+1, total)
		}
	}
	return nil
}

// abortDataPhase classifies a two-strikes DATA failure: if the device is
// still answering in its bootloader, the transfer itself failed and can be
// retried from scratch; if it no longer answers at all, something worse
// happened and the caller needs to know the board may be bricked.
func (f *Flasher) abortDataPhase(ctx context.Context, chunkIdx int, cause error) error {
	alive, err := f.dev.IsInBootloader(ctx)
	if err != nil || !alive {
		return &errs.DataPhaseFailureError{Reason: "device stopped responding while in bootloader: " + cause.Error()}
	}
	return &errs.DataPhaseFailureError{Reason: "chunk " + itoa(chunkIdx) + " failed twice in a row, device remains in bootloader: " + cause.Error()}
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// ResetUART asks the bootloader to reset the UART peripheral to its
// defaults without touching stored settings - the --erase-uart-only path
// (SPEC_FULL.md §C.1).
func (f *Flasher) ResetUART(ctx context.Context) error {
	if err := f.dev.Instrument.WriteU16(ctx, UARTResetReg, 1); err != nil {
		return bootloaderCmdErr("UART reset", err)
	}
	return nil
}

// EraseEEPROM asks the bootloader to wipe the whole settings EEPROM - the
// --erase-settings path (SPEC_FULL.md §C.1).
func (f *Flasher) EraseEEPROM(ctx context.Context) error {
	if err := f.dev.Instrument.WriteU16(ctx, EEPROMEraseReg, 1); err != nil {
		return bootloaderCmdErr("EEPROM erase", err)
	}
	return nil
}

// bootloaderCmdErr classifies a rejected bootloader-only write: an illegal
// request (exceptions 01-03) means the device answered but isn't in its
// bootloader at all, which callers need to tell apart from a genuine
// bootloader-side command failure (spec.md §4.5).
func bootloaderCmdErr(op string, err error) error {
	var illegal *errs.IllegalRequestError
	if errors.As(err, &illegal) {
		return &errs.NotInBootloaderError{}
	}
	return &errs.BootloaderCmdError{Reason: op + " rejected: " + err.Error()}
}

// UserDataPreserved reports whether the bootloader has enough flashfs
// space free to hold every DATA chunk f is about to write without
// overwriting user data, gated on bootloaderVersion being new enough to
// have the register at all (spec.md §4.5): preserved iff
// available_chunks > number_of_data_chunks_to_write. Returns true, nil for
// bootloaders too old to report it: there is nothing to contradict.
func (f *Flasher) UserDataPreserved(ctx context.Context, bootloaderVersion string) (bool, error) {
	v, err := version.Parse(bootloaderVersion)
	if err != nil {
		return false, err
	}
	if !v.AtLeast(userDataPreservationMinVersion) {
		return true, nil
	}
	free, err := f.dev.Instrument.ReadU16(ctx, FreeSpaceReg, false)
	if err != nil {
		var illegal *errs.IllegalRequestError
		if errors.As(err, &illegal) {
			return true, nil
		}
		return false, err
	}
	return int(free) > len(f.art.Chunks), nil
}
