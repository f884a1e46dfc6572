// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package prober

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/wirenboard/wb-fw-updater/internal/device"
	"github.com/wirenboard/wb-fw-updater/internal/instrument"
	"github.com/wirenboard/wb-fw-updater/internal/transport"
	"github.com/wirenboard/wb-fw-updater/modbus"
	"github.com/wirenboard/wb-fw-updater/modbus/crc"
)

type fakePort struct {
	responses [][]byte
	next      int
	reader    *bytes.Reader
}

func (f *fakePort) Write(p []byte) (int, error) {
	if f.next < len(f.responses) {
		f.reader = bytes.NewReader(f.responses[f.next])
		f.next++
	} else {
		f.reader = nil
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.reader == nil {
		return 0, io.EOF
	}
	return f.reader.Read(p)
}

func (f *fakePort) Close() error { return nil }

func frame(slaveID byte, pdu modbus.ProtocolDataUnit) []byte {
	raw := append([]byte{slaveID, pdu.FunctionCode}, pdu.Data...)
	var c crc.CRC
	c.Reset().PushBytes(raw)
	sum := c.Value()
	return append(raw, byte(sum), byte(sum>>8))
}

func exceptionFrame(slaveID, funcCode, code byte) []byte {
	return frame(slaveID, modbus.ProtocolDataUnit{FunctionCode: funcCode | 0x80, Data: []byte{code}})
}

func holdingRegs(slaveID byte, regs ...uint16) []byte {
	data := []byte{byte(len(regs) * 2)}
	for _, r := range regs {
		data = append(data, byte(r>>8), byte(r))
	}
	return frame(slaveID, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: data})
}

func newProbeDevice(responses ...[]byte) *device.Device {
	port := &fakePort{responses: responses}
	tr := transport.NewFromPort(port, transport.SerialSettings{BaudRate: 9600, Parity: transport.ParityNone, StopBits: 2})
	inst := instrument.New(tr, 0x01, 30*time.Millisecond)
	inst.Retries = 0
	return device.New("test-device", 1, "injected", inst)
}

func TestProbeDevice_Alive(t *testing.T) {
	dev := newProbeDevice(
		holdingRegs(0x01, 1),           // connect(): slave_id read
		holdingRegs(0x01, 0, 1),        // serial_number
		holdingRegs(0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0), // fw_signature (12 regs)
		holdingRegs(0x01, 0, 0, 0, 0, 0, 0),                   // device_signature (6 regs)
		holdingRegs(0x01, make([]uint16, 16)...),              // fw_version (16 regs)
		holdingRegs(0x01, 0, 60),                              // uptime
		holdingRegs(0x01, 0, 1),                                // SerialNumber (plain dialect re-read)
	)

	result, err := ProbeDevice(context.Background(), dev)
	if err != nil {
		t.Fatalf("ProbeDevice() error = %v", err)
	}
	if result.Outcome != Alive {
		t.Fatalf("ProbeDevice() outcome = %v, want Alive", result.Outcome)
	}
}

func TestProbeDevice_TooOld(t *testing.T) {
	dev := newProbeDevice(
		holdingRegs(0x01, 1),                                            // connect(): slave_id read
		holdingRegs(0x01, 0, 1),                                         // serial_number
		exceptionFrame(0x01, modbus.FuncCodeReadHoldingRegisters, modbus.ExceptionCodeIllegalDataAddress), // fw_signature
	)

	result, err := ProbeDevice(context.Background(), dev)
	if err != nil {
		t.Fatalf("ProbeDevice() error = %v", err)
	}
	if result.Outcome != TooOldToUpdate {
		t.Fatalf("ProbeDevice() outcome = %v, want TooOldToUpdate", result.Outcome)
	}
}

func TestProbeDevice_Foreign(t *testing.T) {
	dev := newProbeDevice(
		holdingRegs(0x01, 1), // connect(): slave_id read
		exceptionFrame(0x01, modbus.FuncCodeReadHoldingRegisters, modbus.ExceptionCodeSlaveDeviceFailure), // serial_number
	)

	result, err := ProbeDevice(context.Background(), dev)
	if err != nil {
		t.Fatalf("ProbeDevice() error = %v", err)
	}
	if result.Outcome != Foreign {
		t.Fatalf("ProbeDevice() outcome = %v, want Foreign", result.Outcome)
	}
}

func TestProbeDevice_Disconnected(t *testing.T) {
	dev := newProbeDevice() // no responses at all: every read times out

	result, err := ProbeDevice(context.Background(), dev)
	if err != nil {
		t.Fatalf("ProbeDevice() error = %v", err)
	}
	if result.Outcome != Disconnected {
		t.Fatalf("ProbeDevice() outcome = %v, want Disconnected", result.Outcome)
	}
}
