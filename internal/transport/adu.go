// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"fmt"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/modbus"
	"github.com/wirenboard/wb-fw-updater/modbus/crc"
)

const (
	aduMinSize = 4
	aduMaxSize = 256
)

// applicationDataUnit is the RTU framing of a PDU: SlaveID(1) + PDU + CRC(2).
type applicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// decodeADU validates the CRC of raw and splits it into slave id + PDU.
func decodeADU(raw []byte) (*applicationDataUnit, error) {
	length := len(raw)
	if length < aduMinSize {
		return nil, fmt.Errorf("modbus: frame length %d below minimum %d", length, aduMinSize)
	}

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	got := uint16(raw[length-1])<<8 | uint16(raw[length-2])
	if got != c.Value() {
		return nil, &errs.CrcError{Got: got, Want: c.Value()}
	}

	return &applicationDataUnit{
		SlaveID: raw[0],
		Pdu: modbus.ProtocolDataUnit{
			FunctionCode: raw[1],
			Data:         raw[2 : length-2],
		},
	}, nil
}

// encodeADU frames slaveID+pdu as SlaveID(1) + Func(1) + Data + CRC(2).
func encodeADU(slaveID byte, pdu modbus.ProtocolDataUnit) ([]byte, error) {
	length := len(pdu.Data) + 4
	if length > aduMaxSize {
		return nil, fmt.Errorf("modbus: encoded length %d exceeds maximum %d", length, aduMaxSize)
	}
	raw := make([]byte, length)
	raw[0] = slaveID
	raw[1] = pdu.FunctionCode
	copy(raw[2:], pdu.Data)

	var c crc.CRC
	c.Reset().PushBytes(raw[0 : length-2])
	checksum := c.Value()
	raw[length-2] = byte(checksum)
	raw[length-1] = byte(checksum >> 8)
	return raw, nil
}
