// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build linux

package transport

import (
	"golang.org/x/sys/unix"
)

// fder is satisfied by anything that exposes its underlying file
// descriptor - notably *os.File, which every Unix serial-port
// implementation in the ecosystem wraps (grid-x/serial included).
type fder interface {
	Fd() uintptr
}

// switchStopBits reconfigures the CFlag stop-bits bit on an already-open
// fd without touching baud rate or parity, so in-flight bytes already
// queued on the line are not lost - spec.md §4.1's stopbits-on-the-fly
// workaround for bootloaders that answer with 1 stopbit regardless of what
// was negotiated.
func switchStopBits(port interface{}, stopBits int) error {
	f, ok := port.(fder)
	if !ok {
		return errUnsupportedStopBitsSwitch
	}
	fd := int(f.Fd())

	t, err := unix.IoctlGetTermios(fd, ioctlTermiosGet)
	if err != nil {
		return err
	}
	if stopBits == 2 {
		t.Cflag |= unix.CSTOPB
	} else {
		t.Cflag &^= unix.CSTOPB
	}
	return unix.IoctlSetTermios(fd, ioctlTermiosSet, t)
}

const (
	ioctlTermiosGet = unix.TCGETS
	ioctlTermiosSet = unix.TCSETS
)
