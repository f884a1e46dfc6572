// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"
)

// line is a physical RS-485/RS-232 serial device node, shared by every
// Device (and therefore every Transport) addressing a slave on that port.
// Spec.md §4.1/§5: inter-frame silence and transaction ordering are
// properties of the port, not of any one device, so the port handle - its
// mutex, its last-activity clock, and the settings currently on the wire -
// lives here rather than in Transport.
type line struct {
	mu sync.Mutex

	path string
	port io.ReadWriteCloser
	// injected is set for lines built by NewFromPort: the port is never
	// redialed, and a settings change is only recorded.
	injected bool

	applied    SerialSettings
	appliedSet bool

	lastRx time.Time
}

var (
	linesMu sync.Mutex
	lines   = map[string]*line{}
)

// openLine returns the shared *line for path, opening it on first use.
// A line stays registered for the rest of the process; Transport.Close
// closes its port but does not remove it from the registry.
func openLine(path string) *line {
	linesMu.Lock()
	defer linesMu.Unlock()
	if l, ok := lines[path]; ok {
		return l
	}
	l := &line{path: path}
	lines[path] = l
	return l
}

func forgetLine(path string) {
	linesMu.Lock()
	defer linesMu.Unlock()
	delete(lines, path)
}

// ensureOpen opens the underlying port if needed and reconfigures it if the
// requested settings differ from what's currently applied. Cheap no-op
// otherwise, per Instrument's settings-application contract.
func (l *line) ensureOpen(settings SerialSettings) error {
	if l.port != nil && l.appliedSet && l.applied.Equal(settings) {
		return nil
	}
	if l.injected {
		l.applied = settings
		l.appliedSet = true
		return nil
	}
	if l.port != nil {
		l.port.Close()
		l.port = nil
	}
	cfg := &serial.Config{
		Address:  l.path,
		BaudRate: settings.BaudRate,
		DataBits: 8,
		StopBits: settings.StopBits,
		Parity:   string(settings.Parity),
		Timeout:  2 * time.Second,
	}
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", l.path, err)
	}
	l.port = port
	l.applied = settings
	l.appliedSet = true
	slog.Debug("serial line (re)configured", "port", l.path, "settings", settings.String())
	return nil
}

func (l *line) close() error {
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	l.appliedSet = false
	return err
}

// waitSilence blocks until at least 3.5 character times have elapsed since
// the last read on this port, computed at baudRate - spec.md §4.1.
func (l *line) waitSilence(ctx context.Context, baudRate int) error {
	if l.lastRx.IsZero() {
		return nil
	}
	silence := time.Duration(3.5 * charTime(baudRate) * float64(time.Second))
	elapsed := time.Since(l.lastRx)
	if elapsed >= silence {
		return nil
	}
	select {
	case <-time.After(silence - elapsed):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *line) markRx() { l.lastRx = time.Now() }

// NewFromPort builds a Transport around an already-open
// io.ReadWriteCloser, bypassing grid-x/serial's own dialing. Intended for
// tests (faking a serial line the way transport/rtu/client_test.go fakes
// one with a bytes.Buffer) and for the rare case where the caller already
// owns the file descriptor (e.g. a pseudo-tty set up by a test harness).
func NewFromPort(port io.ReadWriteCloser, settings SerialSettings) *Transport {
	return &Transport{
		l:        &line{path: "injected", port: port, applied: settings, appliedSet: true, injected: true},
		Settings: settings,
	}
}
