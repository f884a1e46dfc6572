// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport implements spec.md §4.1: framed Modbus RTU over a
// serial line, with the 3.5-char inter-frame silence, CRC16 framing, the
// stopbits-on-the-fly bootloader workaround and the foregoing-noise-
// cancelling echo quirk.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/modbus"
	"github.com/wirenboard/wb-fw-updater/modbus/rtu"
)

// Transport is one slave's view of a (possibly shared) physical serial
// line. Multiple Transports addressing different slave ids on the same
// port share the underlying *line, so transactions on that port are
// strictly sequential (spec.md §5).
type Transport struct {
	l        *line
	Settings SerialSettings
}

// Open returns a Transport bound to path, sharing the port with any other
// Transport already open on the same path.
func Open(path string, settings SerialSettings) (*Transport, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Transport{l: openLine(path), Settings: settings}, nil
}

// Close closes the port of the underlying shared line, for every Transport
// on the same path. The line stays registered, and the next Execute on that
// path reopens the port.
func (t *Transport) Close() error {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	return t.l.close()
}

// Path returns the serial device node this Transport addresses.
func (t *Transport) Path() string { return t.l.path }

// Execute sends request to slaveID and returns the decoded response PDU,
// reading one complete response frame for no longer than timeout.
// It is the sole contract every Instrument operation is built on.
func (t *Transport) Execute(ctx context.Context, slaveID byte, request modbus.ProtocolDataUnit, timeout time.Duration) (modbus.ProtocolDataUnit, error) {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()

	if err := t.l.ensureOpen(t.Settings); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	aduBytes, err := encodeADU(slaveID, request)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	if err := t.l.waitSilence(ctx, t.Settings.BaudRate); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	slog.Debug("transport write", "port", t.l.path, "slave", slaveID, "func", fmt.Sprintf("0x%02X", request.FunctionCode))
	if _, err := t.l.port.Write(aduBytes); err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("transport: write %s: %w", t.l.path, err)
	}

	var raw []byte
	if t.Settings.StopBitsOnFly {
		raw, err = t.readStopBitsOnFly(ctx, slaveID, request.FunctionCode, aduBytes, timeout)
	} else {
		deadline := time.Now().Add(timeout)
		raw, err = rtu.ReadResponse(slaveID, request.FunctionCode, t.l.port, deadline, t.Settings.EchoSkip)
	}
	if err != nil {
		if errors.Is(err, rtu.ErrRequestTimedOut) || errors.Is(err, io.EOF) {
			return modbus.ProtocolDataUnit{}, &errs.NoResponseError{Port: t.l.path}
		}
		if errors.Is(err, rtu.ErrLocalEcho) {
			return modbus.ProtocolDataUnit{}, &errs.LocalEchoError{SlaveID: slaveID, FunctionCode: request.FunctionCode}
		}
		return modbus.ProtocolDataUnit{}, fmt.Errorf("transport: read %s: %w", t.l.path, err)
	}
	t.l.markRx()

	adu, err := decodeADU(raw)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	if adu.SlaveID != slaveID {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("transport: response slave id %d does not match request %d", adu.SlaveID, slaveID)
	}

	if exc, ok := modbus.AsException(adu.Pdu); ok {
		return modbus.ProtocolDataUnit{}, classifyException(exc)
	}
	return adu.Pdu, nil
}

var errUnsupportedStopBitsSwitch = errors.New("transport: stopbits-on-the-fly unsupported on this backend")

// readStopBitsOnFly implements spec.md §4.1's stopbits-on-the-fly variant:
// wait for the bootloader to start answering, switch to 1 stopbit without
// reopening the port, read the rest of the frame, then restore the
// negotiated stop bits.
func (t *Transport) readStopBitsOnFly(ctx context.Context, slaveID, functionCode byte, aduBytes []byte, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	first := make([]byte, 1)
	for {
		if time.Now().After(deadline) {
			return nil, &errs.NoResponseError{Port: t.l.path}
		}
		n, err := t.l.port.Read(first)
		if n > 0 {
			break
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
	}

	if err := switchStopBits(t.l.port, 1); err != nil && err != errUnsupportedStopBitsSwitch {
		return nil, err
	}
	defer func() {
		if err := switchStopBits(t.l.port, t.Settings.StopBits); err != nil && err != errUnsupportedStopBitsSwitch {
			slog.Warn("failed to restore stop bits after on-the-fly switch", "port", t.l.path, "err", err)
		}
	}()

	rest, err := rtu.ReadResponse(slaveID, functionCode, io.MultiReader(bytes.NewReader(first), t.l.port), deadline, t.Settings.EchoSkip)
	if err != nil {
		return nil, err
	}
	return rest, nil
}

// classifyException buckets a Modbus exception response the way spec.md
// §4.1 requires: 01-03 is the request's own fault, everything else
// (notably 04, slave device failure) is the slave's.
func classifyException(exc *modbus.ExceptionError) error {
	switch exc.Code {
	case modbus.ExceptionCodeIllegalFunction, modbus.ExceptionCodeIllegalDataAddress, modbus.ExceptionCodeIllegalDataValue:
		return &errs.IllegalRequestError{FunctionCode: exc.FunctionCode, Code: exc.Code}
	default:
		return &errs.SlaveReportedException{FunctionCode: exc.FunctionCode, Code: exc.Code}
	}
}
