// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

//go:build linux

package arbitration

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// findHolders implements the fuser semantics spec.md §4.8 step 1 asks for:
// walk /proc/*/fd, readlink each entry, and collect every pid whose
// resolved target is path. There is no fuser(1)-equivalent library in the
// dependency pack, so this is a direct port of what fuser itself does
// under the hood, same as grid-x/serial avoids any such wrapper for
// opening the line itself.
func findHolders(path string) ([]Holder, error) {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		// A device node that doesn't exist yet has no holders.
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	procs, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	var holders []Holder
	for _, p := range procs {
		pid, err := strconv.Atoi(p.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join("/proc", p.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			// Process exited or we lack permission; not our holder either way.
			continue
		}
		for _, fd := range fds {
			target, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if target == real {
				holders = append(holders, Holder{PID: pid, Comm: readComm(pid)})
				break
			}
		}
	}
	return holders, nil
}

func readComm(pid int) string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "?"
	}
	return strings.TrimSpace(string(data))
}

// pause sends SIGSTOP, spec.md §4.8 step 4 - stopping the holder without
// terminating it so it resumes exactly where it left off.
func pause(pid int) error {
	return unix.Kill(pid, unix.SIGSTOP)
}

// resume sends SIGCONT, the inverse of pause.
func resume(pid int) error {
	return unix.Kill(pid, unix.SIGCONT)
}

// captureTermios reads back the kernel's current line discipline settings
// for path (spec.md §4.8 step 5), so Release can put them back exactly as
// found even if the work in between reconfigured baud/parity/stopbits
// several times. A path with no device node has nothing to capture and
// yields nil, nil, the same way findHolders reports no holders for it.
func captureTermios(path string) (any, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_NOCTTY, 0)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// restoreTermios writes back a *unix.Termios captured by captureTermios.
func restoreTermios(path string, saved any) error {
	t, ok := saved.(*unix.Termios)
	if !ok {
		return fmt.Errorf("arbitration: unexpected termios snapshot type %T", saved)
	}
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_NOCTTY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return unix.IoctlSetTermios(int(f.Fd()), unix.TCSETS, t)
}
