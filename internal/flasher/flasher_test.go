// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package flasher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/wirenboard/wb-fw-updater/internal/device"
	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/internal/instrument"
	"github.com/wirenboard/wb-fw-updater/internal/transport"
	"github.com/wirenboard/wb-fw-updater/internal/wbfw"
	"github.com/wirenboard/wb-fw-updater/modbus"
	"github.com/wirenboard/wb-fw-updater/modbus/crc"
)

// scriptedPort replies ok or times out according to a per-write script; a
// nil entry means "no response" (simulating a dropped chunk), anything
// else is returned verbatim as the framed response.
type scriptedPort struct {
	script [][]byte
	next   int
	reader *bytes.Reader
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	var resp []byte
	if p.next < len(p.script) {
		resp = p.script[p.next]
	}
	p.next++
	if resp != nil {
		p.reader = bytes.NewReader(resp)
	} else {
		p.reader = nil
	}
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if p.reader == nil {
		return 0, io.EOF
	}
	return p.reader.Read(b)
}

func (p *scriptedPort) Close() error { return nil }

func okReply(funcCode byte) []byte {
	raw := append([]byte{0x01, funcCode}, 0x10, 0x00, 0x00, 0x02)
	var c crc.CRC
	c.Reset().PushBytes(raw)
	sum := c.Value()
	return append(raw, byte(sum), byte(sum>>8))
}

func readReply(values ...uint16) []byte {
	data := make([]byte, 1+len(values)*2)
	data[0] = byte(len(values) * 2)
	for idx, v := range values {
		data[1+idx*2] = byte(v >> 8)
		data[2+idx*2] = byte(v)
	}
	raw := append([]byte{0x01, modbus.FuncCodeReadHoldingRegisters}, data...)
	var c crc.CRC
	c.Reset().PushBytes(raw)
	sum := c.Value()
	return append(raw, byte(sum), byte(sum>>8))
}

func exceptionReply(funcCode, code byte) []byte {
	raw := []byte{0x01, funcCode | 0x80, code}
	var c crc.CRC
	c.Reset().PushBytes(raw)
	sum := c.Value()
	return append(raw, byte(sum), byte(sum>>8))
}

func newFlasherWithScript(t *testing.T, script [][]byte, chunks int) (*Flasher, *scriptedPort) {
	t.Helper()
	port := &scriptedPort{script: script}
	tr := transport.NewFromPort(port, transport.SerialSettings{BaudRate: 9600, Parity: transport.ParityNone, StopBits: 2})
	inst := instrument.New(tr, 0x01, 20*time.Millisecond)
	inst.Retries = 0
	dev := device.New("test-device", 1, "injected", inst)

	art := &wbfw.Artifact{}
	for i := 0; i < chunks; i++ {
		art.Chunks = append(art.Chunks, []uint16{uint16(i), uint16(i + 1)})
	}
	return New(dev, art), port
}

func TestRun_AllChunksSucceed(t *testing.T) {
	script := [][]byte{
		okReply(modbus.FuncCodeWriteMultipleRegisters), // INFO
		okReply(modbus.FuncCodeWriteMultipleRegisters), // chunk 0
		okReply(modbus.FuncCodeWriteMultipleRegisters), // chunk 1
	}
	f, _ := newFlasherWithScript(t, script, 2)

	var sent, total int
	err := f.Run(context.Background(), func(s, tt int) { sent, total = s, tt })
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.State() != Done {
		t.Fatalf("State() = %v, want Done", f.State())
	}
	if sent != 2 || total != 2 {
		t.Fatalf("progress = %d/%d, want 2/2", sent, total)
	}
}

func TestRun_SingleChunkFailureTolerated(t *testing.T) {
	// 6 chunks; chunk index 4 drops, chunk index 5 succeeds. No overall
	// error, per the single-fault tolerance.
	script := make([][]byte, 0, 7)
	script = append(script, okReply(modbus.FuncCodeWriteMultipleRegisters)) // INFO
	for i := 0; i < 6; i++ {
		if i == 4 {
			script = append(script, nil)
			continue
		}
		script = append(script, okReply(modbus.FuncCodeWriteMultipleRegisters))
	}
	f, _ := newFlasherWithScript(t, script, 6)

	if err := f.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() error = %v, want nil (single fault must be tolerated)", err)
	}
}

func TestRun_TwoConsecutiveFailuresAbort(t *testing.T) {
	// Chunks 4 and 5 both drop; bootloader still answers the subsequent
	// liveness probe, so this must surface as DataPhaseFailureError.
	script := []([]byte){
		okReply(modbus.FuncCodeWriteMultipleRegisters), // INFO
		okReply(modbus.FuncCodeWriteMultipleRegisters), // chunk 0
		okReply(modbus.FuncCodeWriteMultipleRegisters), // chunk 1
		okReply(modbus.FuncCodeWriteMultipleRegisters), // chunk 2
		okReply(modbus.FuncCodeWriteMultipleRegisters), // chunk 3
		nil, // chunk 4 fails
		nil, // chunk 5 fails
		exceptionReply(modbus.FuncCodeReadHoldingRegisters, modbus.ExceptionCodeSlaveDeviceFailure),  // liveness probe step 1: slave_id read fails
		exceptionReply(modbus.FuncCodeWriteMultipleRegisters, modbus.ExceptionCodeSlaveDeviceFailure), // liveness probe step 2: bootloader still there
	}
	f, _ := newFlasherWithScript(t, script, 6)

	err := f.Run(context.Background(), nil)
	var dataErr *errs.DataPhaseFailureError
	if !errors.As(err, &dataErr) {
		t.Fatalf("Run() error = %v, want *errs.DataPhaseFailureError", err)
	}
}

func TestUserDataPreserved_OldBootloaderSkipsCheck(t *testing.T) {
	f, _ := newFlasherWithScript(t, nil, 0)
	ok, err := f.UserDataPreserved(context.Background(), "1.1.0")
	if err != nil {
		t.Fatalf("UserDataPreserved() error = %v", err)
	}
	if !ok {
		t.Fatal("UserDataPreserved() = false, want true for a bootloader older than 1.2.0")
	}
}

func TestUserDataPreserved_ReadsFreeSpace(t *testing.T) {
	script := [][]byte{readReply(42)}
	f, _ := newFlasherWithScript(t, script, 10)

	ok, err := f.UserDataPreserved(context.Background(), "1.2.0")
	if err != nil {
		t.Fatalf("UserDataPreserved() error = %v", err)
	}
	if !ok {
		t.Fatal("UserDataPreserved() = false, want true when free space exceeds the chunk count")
	}
}

func TestUserDataPreserved_NotEnoughFreeSpace(t *testing.T) {
	// 5 available flashfs chunks, 50 DATA chunks to write: 5 <= 50, so
	// user data is not preserved even though free space is nonzero.
	script := [][]byte{readReply(5)}
	f, _ := newFlasherWithScript(t, script, 50)

	ok, err := f.UserDataPreserved(context.Background(), "1.2.0")
	if err != nil {
		t.Fatalf("UserDataPreserved() error = %v", err)
	}
	if ok {
		t.Fatal("UserDataPreserved() = true, want false when free space does not exceed the chunk count")
	}
}
