// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/modbus"
	"github.com/wirenboard/wb-fw-updater/modbus/crc"
)

// fakePort canned-replies to whatever is written to it, mimicking a
// half-duplex serial loopback.
type fakePort struct {
	written  []byte
	response []byte
	reader   *bytes.Reader
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.written = append(f.written, p...)
	f.reader = bytes.NewReader(f.response)
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

func TestExecute_ReadHoldingRegisters(t *testing.T) {
	respPDU := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x02, 0xAA, 0xBB}}
	port := &fakePort{response: frame(0x01, respPDU)}
	tr := NewFromPort(port, SerialSettings{BaudRate: 9600, Parity: ParityNone, StopBits: 2})

	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x00, 0x64, 0x00, 0x01}}
	got, err := tr.Execute(context.Background(), 0x01, req, time.Second)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !bytes.Equal(got.Data, respPDU.Data) {
		t.Fatalf("Execute() data = %x, want %x", got.Data, respPDU.Data)
	}

	wantReq := frame(0x01, req)
	if !bytes.Equal(port.written, wantReq) {
		t.Fatalf("wrote %x, want %x", port.written, wantReq)
	}
}

func TestExecute_IllegalRequestException(t *testing.T) {
	excPDU := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters | 0x80, Data: []byte{modbus.ExceptionCodeIllegalDataAddress}}
	port := &fakePort{response: frame(0x01, excPDU)}
	tr := NewFromPort(port, SerialSettings{BaudRate: 9600, Parity: ParityNone, StopBits: 2})

	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x00, 0x64, 0x00, 0x01}}
	_, err := tr.Execute(context.Background(), 0x01, req, time.Second)

	var illegal *errs.IllegalRequestError
	if !errors.As(err, &illegal) {
		t.Fatalf("Execute() error = %v, want *errs.IllegalRequestError", err)
	}
}

func TestExecute_SlaveDeviceFailureException(t *testing.T) {
	excPDU := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters | 0x80, Data: []byte{modbus.ExceptionCodeSlaveDeviceFailure}}
	port := &fakePort{response: frame(0x01, excPDU)}
	tr := NewFromPort(port, SerialSettings{BaudRate: 9600, Parity: ParityNone, StopBits: 2})

	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x00, 0x64, 0x00, 0x01}}
	_, err := tr.Execute(context.Background(), 0x01, req, time.Second)

	var slaveErr *errs.SlaveReportedException
	if !errors.As(err, &slaveErr) {
		t.Fatalf("Execute() error = %v, want *errs.SlaveReportedException", err)
	}
}

func TestExecute_NoResponse(t *testing.T) {
	port := &fakePort{response: nil}
	tr := NewFromPort(port, SerialSettings{BaudRate: 115200, Parity: ParityNone, StopBits: 2})

	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x00, 0x64, 0x00, 0x01}}
	_, err := tr.Execute(context.Background(), 0x01, req, 50*time.Millisecond)

	var noResp *errs.NoResponseError
	if !errors.As(err, &noResp) {
		t.Fatalf("Execute() error = %v, want *errs.NoResponseError", err)
	}
}

func TestExecute_CrcMismatch(t *testing.T) {
	respPDU := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x02, 0xAA, 0xBB}}
	good := frame(0x01, respPDU)
	good[len(good)-1] ^= 0xFF // corrupt the CRC
	port := &fakePort{response: good}
	tr := NewFromPort(port, SerialSettings{BaudRate: 9600, Parity: ParityNone, StopBits: 2})

	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x00, 0x64, 0x00, 0x01}}
	_, err := tr.Execute(context.Background(), 0x01, req, time.Second)

	var crcErr *errs.CrcError
	if !errors.As(err, &crcErr) {
		t.Fatalf("Execute() error = %v, want *errs.CrcError", err)
	}
}

func TestExecute_EchoSkipDiscardsLeadingNoise(t *testing.T) {
	respPDU := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x02, 0xAA, 0xBB}}
	noisy := append([]byte{0xFF, 0xFE}, frame(0x01, respPDU)...)
	port := &fakePort{response: noisy}

	tr := NewFromPort(port, SerialSettings{BaudRate: 9600, Parity: ParityNone, StopBits: 2, EchoSkip: true})
	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x00, 0x64, 0x00, 0x01}}
	got, err := tr.Execute(context.Background(), 0x01, req, time.Second)
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil with EchoSkip enabled", err)
	}
	if !bytes.Equal(got.Data, respPDU.Data) {
		t.Fatalf("Execute() data = %x, want %x", got.Data, respPDU.Data)
	}
}

func TestExecute_NoEchoSkipRejectsLeadingNoise(t *testing.T) {
	respPDU := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x02, 0xAA, 0xBB}}
	noisy := append([]byte{0xFF, 0xFE}, frame(0x01, respPDU)...)
	port := &fakePort{response: noisy}

	tr := NewFromPort(port, SerialSettings{BaudRate: 9600, Parity: ParityNone, StopBits: 2})
	req := modbus.ProtocolDataUnit{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Data: []byte{0x00, 0x64, 0x00, 0x01}}
	_, err := tr.Execute(context.Background(), 0x01, req, time.Second)

	var localEcho *errs.LocalEchoError
	if !errors.As(err, &localEcho) {
		t.Fatalf("Execute() error = %v, want *errs.LocalEchoError with EchoSkip disabled", err)
	}
}

func TestSerialSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		s       SerialSettings
		wantErr bool
	}{
		{"ok", SerialSettings{BaudRate: 9600, Parity: ParityNone, StopBits: 2}, false},
		{"bad baud", SerialSettings{BaudRate: 9601, Parity: ParityNone, StopBits: 2}, true},
		{"bad parity", SerialSettings{BaudRate: 9600, Parity: 'X', StopBits: 2}, true},
		{"bad stopbits", SerialSettings{BaudRate: 9600, Parity: ParityNone, StopBits: 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
