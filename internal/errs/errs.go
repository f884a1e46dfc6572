// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package errs carries the error taxonomy that every other package in this
// module classifies its failures into. Each kind is a distinct Go type so
// callers can bucket failures with errors.As instead of string matching,
// the way the teacher's transport/rtu distinguishes *InvalidLengthError from
// a plain fmt.Errorf.
package errs

import "fmt"

// --- TransportError ---

// NoResponseError means the device produced no bytes before the deadline.
type NoResponseError struct {
	Port string
}

func (e *NoResponseError) Error() string { return fmt.Sprintf("modbus: no response on %s", e.Port) }

// CrcError means a frame was received but its CRC16 did not verify.
type CrcError struct {
	Got, Want uint16
}

func (e *CrcError) Error() string {
	return fmt.Sprintf("modbus: crc mismatch, got 0x%04X want 0x%04X", e.Got, e.Want)
}

// LocalEchoError means the echo-cancelling transport could not locate the
// expected slave/function-code marker in the received buffer.
type LocalEchoError struct {
	SlaveID, FunctionCode byte
}

func (e *LocalEchoError) Error() string {
	return fmt.Sprintf("modbus: local echo did not contain slave %d func 0x%02X", e.SlaveID, e.FunctionCode)
}

// --- ModbusException, wrapping modbus.ExceptionError ---

// IllegalRequestError covers Modbus exceptions 01-03: the request itself was
// malformed or addressed something the device does not have.
type IllegalRequestError struct {
	FunctionCode, Code byte
}

func (e *IllegalRequestError) Error() string {
	return fmt.Sprintf("modbus: illegal request, function 0x%02X exception %d", e.FunctionCode, e.Code)
}

// SlaveReportedException covers Modbus exception 04 and other slave-side
// failures (busy, NAK, parity) that are not the request's fault.
type SlaveReportedException struct {
	FunctionCode, Code byte
}

func (e *SlaveReportedException) Error() string {
	return fmt.Sprintf("modbus: slave reported exception, function 0x%02X code %d", e.FunctionCode, e.Code)
}

// --- DeviceClassificationError ---

// TooOldDeviceError means the device has no firmware-signature register and
// therefore cannot be updated in the field.
type TooOldDeviceError struct {
	SlaveID int
}

func (e *TooOldDeviceError) Error() string {
	return fmt.Sprintf("modbus: slave %d is a legacy device without a bootloader", e.SlaveID)
}

// ForeignDeviceError means the device answered but failed the WB
// identity check.
type ForeignDeviceError struct {
	SlaveID int
}

func (e *ForeignDeviceError) Error() string {
	return fmt.Sprintf("modbus: slave %d is not a Wiren Board device", e.SlaveID)
}

// UARTSettingsNotFoundError means auto-discovery exhausted the
// baud/parity/stopbits product without a single successful probe.
type UARTSettingsNotFoundError struct {
	SlaveID int
}

func (e *UARTSettingsNotFoundError) Error() string {
	return fmt.Sprintf("modbus: no working uart settings found for slave %d", e.SlaveID)
}

// --- FlashingError ---

// IncorrectFwError means a WBFW artifact failed to parse.
type IncorrectFwError struct {
	Reason string
}

func (e *IncorrectFwError) Error() string { return fmt.Sprintf("wbfw: incorrect firmware file: %s", e.Reason) }

// NotInBootloaderError means a bootloader-only operation was attempted
// against a device that is not (or no longer) in its bootloader.
type NotInBootloaderError struct{}

func (e *NotInBootloaderError) Error() string { return "flasher: device is not in bootloader" }

// BootloaderCmdError means a bootloader command (reset-uart, reset-eeprom)
// failed for a reason other than "not in bootloader".
type BootloaderCmdError struct {
	Reason string
}

func (e *BootloaderCmdError) Error() string { return fmt.Sprintf("flasher: bootloader command failed: %s", e.Reason) }

// DataPhaseFailureError means the DATA streaming phase exhausted its
// one-transient-fault tolerance.
type DataPhaseFailureError struct {
	Reason string
}

func (e *DataPhaseFailureError) Error() string { return fmt.Sprintf("flasher: data phase failed: %s", e.Reason) }

// --- RemoteError ---

// RemoteStorageError is the parent of the two concrete remote failures.
type RemoteStorageError struct {
	Op     string
	URL    string
	Reason error
}

func (e *RemoteStorageError) Error() string {
	return fmt.Sprintf("remote: %s %s: %v", e.Op, e.URL, e.Reason)
}

func (e *RemoteStorageError) Unwrap() error { return e.Reason }

// --- ReleaseError ---

// NoReleasedFwError means the release manifest has no entry for the
// requested (signature, suite) pair.
type NoReleasedFwError struct {
	Signature, Suite string
}

func (e *NoReleasedFwError) Error() string {
	return fmt.Sprintf("release: no released firmware for signature %q suite %q", e.Signature, e.Suite)
}

// VersionParsingError means a version string (from the manifest or a
// latest.txt) could not be parsed as semver.
type VersionParsingError struct {
	Value string
}

func (e *VersionParsingError) Error() string { return fmt.Sprintf("release: cannot parse version %q", e.Value) }

// --- UpdateError ---

// UserCancelledError means an interactive confirmation was declined.
type UserCancelledError struct {
	Reason string
}

func (e *UserCancelledError) Error() string { return fmt.Sprintf("update: cancelled: %s", e.Reason) }

// UpdateDeviceError is the catch-all for update-executor failures that do
// not fit a more specific kind (e.g. a forbidden bootloader downgrade).
type UpdateDeviceError struct {
	Reason string
}

func (e *UpdateDeviceError) Error() string { return fmt.Sprintf("update: %s", e.Reason) }

// --- ConfigParsingError ---

// ConfigParsingError wraps a failure to load or validate a driver config.
type ConfigParsingError struct {
	Reason error
}

func (e *ConfigParsingError) Error() string { return fmt.Sprintf("config: %v", e.Reason) }
func (e *ConfigParsingError) Unwrap() error { return e.Reason }
