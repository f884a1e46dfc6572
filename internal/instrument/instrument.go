// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package instrument implements spec.md §4.2: typed Modbus operations
// (bits, u16, u16 blocks, s16, u32, strings) on top of internal/transport,
// with a bounded retry policy and settings applied before every call.
package instrument

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/internal/transport"
	"github.com/wirenboard/wb-fw-updater/modbus"
)

// AllowedUnsuccessfulTries is the default retry budget for a single
// operation, spec.md §4.2.
const AllowedUnsuccessfulTries = 2

// Instrument is a typed Modbus master bound to one slave id on one
// Transport. Changing the wire settings (baud/parity/stopbits) is always
// done through Instrument.SetSettings, never by reaching into Transport
// directly - spec.md §4.2.
type Instrument struct {
	tr      *transport.Transport
	SlaveID byte
	Timeout time.Duration
	Retries int
}

// New builds an Instrument addressing slaveID over tr.
func New(tr *transport.Transport, slaveID byte, timeout time.Duration) *Instrument {
	return &Instrument{tr: tr, SlaveID: slaveID, Timeout: timeout, Retries: AllowedUnsuccessfulTries}
}

// Transport exposes the underlying transport, e.g. so Device can reopen it
// at a different baud rate during UART auto-discovery.
func (i *Instrument) Transport() *transport.Transport { return i.tr }

// SetSettings changes the serial framing this Instrument's calls use. Cheap
// no-op if unchanged, since Transport.Execute only reconfigures the line
// when the requested settings differ from what's applied.
func (i *Instrument) SetSettings(s transport.SerialSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	i.tr.Settings = s
	return nil
}

func (i *Instrument) Settings() transport.SerialSettings { return i.tr.Settings }

// WithTimeout returns a shallow copy of i using a different per-call
// timeout - used by the Flasher to extend the INFO-block write's deadline
// without mutating the shared Instrument.
func (i *Instrument) WithTimeout(timeout time.Duration) *Instrument {
	cp := *i
	cp.Timeout = timeout
	return &cp
}

// retryable reports whether err is one of the taxonomy kinds spec.md §4.2
// says Instrument retries (transport failures and Modbus exceptions) as
// opposed to a caller-programming error.
func retryable(err error) bool {
	switch err.(type) {
	case *errs.NoResponseError, *errs.CrcError, *errs.LocalEchoError,
		*errs.IllegalRequestError, *errs.SlaveReportedException:
		return true
	}
	return false
}

// withRetry runs op up to i.Retries+1 times, stopping early on a
// non-retryable error and re-raising the last error if the budget is
// exhausted. Stateless: no decorator object, just a loop (spec.md §9).
func withRetry[T any](i *Instrument, op func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	tries := i.Retries
	if tries < 0 {
		tries = 0
	}
	for attempt := 0; attempt <= tries; attempt++ {
		v, err := op()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !retryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

func (i *Instrument) execute(ctx context.Context, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	return i.tr.Execute(ctx, i.SlaveID, pdu, i.Timeout)
}

func be16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }

// --- bits ---

// ReadCoil reads one coil (function 0x01).
func (i *Instrument) ReadCoil(ctx context.Context, addr uint16) (bool, error) {
	return withRetry(i, func() (bool, error) {
		resp, err := i.execute(ctx, modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeReadCoils,
			Data:         append(be16(addr), be16(1)...),
		})
		if err != nil {
			return false, err
		}
		if len(resp.Data) < 2 {
			return false, &errs.CrcError{}
		}
		return resp.Data[1]&0x01 != 0, nil
	})
}

// ReadDiscreteInput reads one discrete input (function 0x02).
func (i *Instrument) ReadDiscreteInput(ctx context.Context, addr uint16) (bool, error) {
	return withRetry(i, func() (bool, error) {
		resp, err := i.execute(ctx, modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeReadDiscreteInputs,
			Data:         append(be16(addr), be16(1)...),
		})
		if err != nil {
			return false, err
		}
		if len(resp.Data) < 2 {
			return false, &errs.CrcError{}
		}
		return resp.Data[1]&0x01 != 0, nil
	})
}

// WriteCoil writes one coil (function 0x05).
func (i *Instrument) WriteCoil(ctx context.Context, addr uint16, value bool) error {
	v := uint16(0x0000)
	if value {
		v = 0xFF00
	}
	_, err := withRetry(i, func() (struct{}, error) {
		_, err := i.execute(ctx, modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeWriteSingleCoil,
			Data:         append(be16(addr), be16(v)...),
		})
		return struct{}{}, err
	})
	return err
}

// --- u16 / s16 ---

// ReadU16 reads one holding (input=false) or input (input=true) register.
func (i *Instrument) ReadU16(ctx context.Context, addr uint16, input bool) (uint16, error) {
	block, err := i.ReadU16Block(ctx, addr, 1, input)
	if err != nil {
		return 0, err
	}
	return block[0], nil
}

// WriteU16 writes one holding register (function 0x06).
func (i *Instrument) WriteU16(ctx context.Context, addr uint16, value uint16) error {
	_, err := withRetry(i, func() (struct{}, error) {
		_, err := i.execute(ctx, modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeWriteSingleRegister,
			Data:         append(be16(addr), be16(value)...),
		})
		return struct{}{}, err
	})
	return err
}

// ReadS16 reads one holding register as a signed 16-bit value.
func (i *Instrument) ReadS16(ctx context.Context, addr uint16) (int16, error) {
	v, err := i.ReadU16(ctx, addr, false)
	return int16(v), err
}

// WriteS16 writes one holding register from a signed 16-bit value.
func (i *Instrument) WriteS16(ctx context.Context, addr uint16, value int16) error {
	return i.WriteU16(ctx, addr, uint16(value))
}

// ReadU16Block reads count consecutive holding (input=false) or input
// (input=true) registers.
func (i *Instrument) ReadU16Block(ctx context.Context, addr, count uint16, input bool) ([]uint16, error) {
	funcCode := byte(modbus.FuncCodeReadHoldingRegisters)
	if input {
		funcCode = modbus.FuncCodeReadInputRegisters
	}
	return withRetry(i, func() ([]uint16, error) {
		resp, err := i.execute(ctx, modbus.ProtocolDataUnit{
			FunctionCode: funcCode,
			Data:         append(be16(addr), be16(count)...),
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) < 1 || len(resp.Data)-1 != int(count)*2 {
			return nil, &errs.CrcError{}
		}
		regs := make([]uint16, count)
		for idx := range regs {
			regs[idx] = binary.BigEndian.Uint16(resp.Data[1+idx*2:])
		}
		return regs, nil
	})
}

// WriteU16Block writes values as one multi-register write (function 0x10) -
// the same operation the Flasher uses to stream INFO and DATA blocks.
func (i *Instrument) WriteU16Block(ctx context.Context, addr uint16, values []uint16) error {
	data := make([]byte, 5+len(values)*2)
	copy(data, be16(addr))
	copy(data[2:], be16(uint16(len(values))))
	data[4] = byte(len(values) * 2)
	for idx, v := range values {
		binary.BigEndian.PutUint16(data[5+idx*2:], v)
	}
	_, err := withRetry(i, func() (struct{}, error) {
		_, err := i.execute(ctx, modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeWriteMultipleRegisters,
			Data:         data,
		})
		return struct{}{}, err
	})
	return err
}

// --- u32 ---

// ReadU32 reads a 32-bit value spanning two holding registers, with
// optional endianness and word-swap control (spec.md §4.2).
func (i *Instrument) ReadU32(ctx context.Context, addr uint16, bigEndian, swapWords bool) (uint32, error) {
	regs, err := i.ReadU16Block(ctx, addr, 2, false)
	if err != nil {
		return 0, err
	}
	hi, lo := regs[0], regs[1]
	if swapWords {
		hi, lo = lo, hi
	}
	if bigEndian {
		return uint32(hi)<<16 | uint32(lo), nil
	}
	return uint32(lo)<<16 | uint32(hi), nil
}

// WriteU32 writes a 32-bit value spanning two holding registers.
func (i *Instrument) WriteU32(ctx context.Context, addr uint16, value uint32, bigEndian, swapWords bool) error {
	hi := uint16(value >> 16)
	lo := uint16(value)
	if !bigEndian {
		hi, lo = lo, hi
	}
	if swapWords {
		hi, lo = lo, hi
	}
	return i.WriteU16Block(ctx, addr, []uint16{hi, lo})
}

// --- strings ---

// ReadString reads count registers and decodes them per spec.md §4.2: treat
// the block as hex, drop every "00", "FF" and space byte, decode as UTF-8,
// trim surrounding whitespace.
func (i *Instrument) ReadString(ctx context.Context, addr, count uint16) (string, error) {
	regs, err := i.ReadU16Block(ctx, addr, count, false)
	if err != nil {
		return "", err
	}
	raw := make([]byte, len(regs)*2)
	for idx, r := range regs {
		binary.BigEndian.PutUint16(raw[idx*2:], r)
	}
	return decodeWBString(raw), nil
}

func decodeWBString(raw []byte) string {
	hexStr := hex.EncodeToString(raw)
	var kept strings.Builder
	for p := 0; p+1 < len(hexStr); p += 2 {
		pair := hexStr[p : p+2]
		if pair == "00" || pair == "ff" {
			continue
		}
		b, err := hex.DecodeString(pair)
		if err != nil || len(b) != 1 {
			continue
		}
		if b[0] == ' ' {
			continue
		}
		kept.WriteByte(b[0])
	}
	return strings.TrimSpace(kept.String())
}
