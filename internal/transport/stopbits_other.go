// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build !linux

package transport

// switchStopBits has no portable implementation outside Linux termios;
// it returns errUnsupportedStopBitsSwitch, which the caller ignores, so the
// response is read at the configured stop bits without switching.
func switchStopBits(port interface{}, stopBits int) error {
	return errUnsupportedStopBitsSwitch
}
