// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

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

func newDevice(responses ...[]byte) (*Device, *fakePort) {
	port := &fakePort{responses: responses}
	tr := transport.NewFromPort(port, transport.SerialSettings{BaudRate: 9600, Parity: transport.ParityNone, StopBits: 2})
	inst := instrument.New(tr, 0x01, 50*time.Millisecond)
	return New("test-device", 1, "injected", inst), port
}

func TestUptime(t *testing.T) {
	resp := frame(0x01, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x04, 0x00, 0x00, 0x0E, 0x10}})
	d, _ := newDevice(resp)

	got, err := d.Uptime(context.Background())
	if err != nil {
		t.Fatalf("Uptime() error = %v", err)
	}
	if got != 3600*time.Second {
		t.Fatalf("Uptime() = %v, want 1h", got)
	}
}

func TestSerialNumber_PlainDialect(t *testing.T) {
	resp := frame(0x01, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x04, 0x00, 0x01, 0x00, 0x02}})
	d, _ := newDevice(resp)

	got, err := d.SerialNumber(context.Background(), "WBMR6")
	if err != nil {
		t.Fatalf("SerialNumber() error = %v", err)
	}
	if got != 0x00010002 {
		t.Fatalf("SerialNumber() = 0x%08X, want 0x00010002", got)
	}
}

func TestSerialNumber_WBMAPDialect(t *testing.T) {
	resp := frame(0x01, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x04, 0x00, 0x01, 0x00, 0x02}})
	d, _ := newDevice(resp)

	got, err := d.SerialNumber(context.Background(), "WBMAP12E")
	if err != nil {
		t.Fatalf("SerialNumber() error = %v", err)
	}
	if got != 0x00010002 {
		t.Fatalf("SerialNumber() = 0x%08X, want 0x00010002", got)
	}
}

func TestReboot_IgnoresNoResponse(t *testing.T) {
	d, _ := newDevice(nil)
	if err := d.Reboot(context.Background()); err != nil {
		t.Fatalf("Reboot() error = %v, want nil (no response is expected)", err)
	}
}

func TestIsInBootloader_AliveDeviceAnswers(t *testing.T) {
	resp := frame(0x01, modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x02, 0x00, 0x01}})
	d, _ := newDevice(resp)

	got, err := d.IsInBootloader(context.Background())
	if err != nil {
		t.Fatalf("IsInBootloader() error = %v", err)
	}
	if got {
		t.Fatal("IsInBootloader() = true, want false for a device that answers normally")
	}
}

func TestIsInBootloader_ExceptionConfirmsBootloader(t *testing.T) {
	// First write (slave_id read at current settings) times out; second
	// write (deliberately-invalid INFO block write at 9600-N-2) gets
	// exception 04.
	port := &fakePort{responses: [][]byte{nil, exceptionFrame(0x01, modbus.FuncCodeWriteMultipleRegisters, modbus.ExceptionCodeSlaveDeviceFailure)}}
	tr := transport.NewFromPort(port, transport.SerialSettings{BaudRate: 115200, Parity: transport.ParityNone, StopBits: 2})
	inst := instrument.New(tr, 0x01, 30*time.Millisecond)
	inst.Retries = 0
	d := New("test-device", 1, "injected", inst)

	got, err := d.IsInBootloader(context.Background())
	if err != nil {
		t.Fatalf("IsInBootloader() error = %v", err)
	}
	if !got {
		t.Fatal("IsInBootloader() = false, want true on exception 04")
	}
}
