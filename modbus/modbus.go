// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus carries the wire-level vocabulary shared by every transport
// and protocol layer above it: the PDU, the function codes and the
// exception codes defined by the Modbus application protocol.
package modbus

import "fmt"

// ProtocolDataUnit is the function-code + payload pair carried inside any
// Modbus ADU (RTU, TCP, or otherwise). It is transport-agnostic.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Function codes used by this module.
const (
	FuncCodeReadCoils             = 0x01
	FuncCodeReadDiscreteInputs    = 0x02
	FuncCodeReadHoldingRegisters  = 0x03
	FuncCodeReadInputRegisters    = 0x04
	FuncCodeWriteSingleCoil       = 0x05
	FuncCodeWriteSingleRegister   = 0x06
	FuncCodeWriteMultipleCoils    = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
	FuncCodeMaskWriteRegister      = 0x16

	FuncCodeReadWriteMultipleRegisters = 0x17
	FuncCodeReadFIFOQueue              = 0x18
	FuncCodeReadDeviceIdentification   = 0x2B
)

// Exception codes, carried in the data byte of a funcCode|0x80 response.
const (
	ExceptionCodeIllegalFunction     = 0x01
	ExceptionCodeIllegalDataAddress  = 0x02
	ExceptionCodeIllegalDataValue    = 0x03
	ExceptionCodeSlaveDeviceFailure  = 0x04
	ExceptionCodeAcknowledge         = 0x05
	ExceptionCodeSlaveDeviceBusy     = 0x06
	ExceptionCodeNegativeAck         = 0x07
	ExceptionCodeMemoryParityError   = 0x08
	ExceptionCodeGatewayPathUnavail  = 0x0A
	ExceptionCodeGatewayTargetFailed = 0x0B
)

// IsException reports whether funcCode is the exception-tagged form of a
// request function code (bit 7 set).
func IsException(funcCode byte) bool {
	return funcCode&0x80 != 0
}

// RequestFuncCode strips the exception bit, returning the function code the
// request was issued with.
func RequestFuncCode(funcCode byte) byte {
	return funcCode &^ 0x80
}

// ExceptionError wraps a Modbus exception response (function code with bit 7
// set, one exception-code data byte). Device and Instrument layers inspect
// the Code field to decide how to classify the failure.
type ExceptionError struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception %d from function 0x%02X", e.Code, e.FunctionCode)
}

// AsException extracts an *ExceptionError from a PDU if it carries one.
func AsException(pdu ProtocolDataUnit) (*ExceptionError, bool) {
	if !IsException(pdu.FunctionCode) || len(pdu.Data) < 1 {
		return nil, false
	}
	return &ExceptionError{
		FunctionCode: RequestFuncCode(pdu.FunctionCode),
		Code:         pdu.Data[0],
	}, true
}
