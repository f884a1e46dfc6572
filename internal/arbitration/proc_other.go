// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build !linux

package arbitration

import "errors"

var errUnsupportedPlatform = errors.New("arbitration: serial-port arbitration is only implemented on linux")

func findHolders(path string) ([]Holder, error) { return nil, nil }

func pause(pid int) error { return errUnsupportedPlatform }

func resume(pid int) error { return errUnsupportedPlatform }

func captureTermios(path string) (any, error) { return nil, nil }

func restoreTermios(path string, saved any) error { return nil }
