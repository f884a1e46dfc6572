// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import "fmt"

// Parity values a Wiren Board line can be configured with.
const (
	ParityNone = 'N'
	ParityOdd  = 'O'
	ParityEven = 'E'
)

var allowedBaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

// SerialSettings is the u8 framing applied to a physical line before a
// transaction: baud rate, parity, and stop bits. It is validated once on
// construction, per spec.
type SerialSettings struct {
	BaudRate int
	Parity   byte
	StopBits int

	// EchoSkip enables the "foregoing noise cancelling" quirk (spec.md
	// §4.1): after reading the expected byte count, keep reading until the
	// buffer contains a slaveID|funcCode (or |0x80) marker and discard
	// whatever precedes it. Exposed per-line rather than auto-detected
	// (spec.md §9 open question), set from driver config or CLI flag.
	EchoSkip bool

	// StopBitsOnFly enables the bootloader workaround where the line is
	// switched to 1 stop bit immediately before reading a response that a
	// stopbits-insensitive bootloader will send back regardless of what
	// was configured on write.
	StopBitsOnFly bool
}

// Validate checks that s describes a combination the hardware actually
// supports.
func (s SerialSettings) Validate() error {
	ok := false
	for _, b := range allowedBaudRates {
		if s.BaudRate == b {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("transport: unsupported baud rate %d", s.BaudRate)
	}
	switch s.Parity {
	case ParityNone, ParityOdd, ParityEven:
	default:
		return fmt.Errorf("transport: unsupported parity %q", string(s.Parity))
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("transport: unsupported stop bits %d", s.StopBits)
	}
	return nil
}

func (s SerialSettings) Equal(o SerialSettings) bool {
	return s.BaudRate == o.BaudRate && s.Parity == o.Parity && s.StopBits == o.StopBits
}

// String renders settings the way Wiren Board tooling names a UART profile,
// e.g. "9600N2".
func (s SerialSettings) String() string {
	return fmt.Sprintf("%d%c%d", s.BaudRate, s.Parity, s.StopBits)
}

// ParseSettings is String's inverse: it parses the --uart-settings CLI flag
// (spec.md §6), e.g. "9600N2" -> {9600, 'N', 2}.
func ParseSettings(s string) (SerialSettings, error) {
	var baud, stopBits int
	var parity byte
	if n, err := fmt.Sscanf(s, "%d%c%d", &baud, &parity, &stopBits); err != nil || n != 3 {
		return SerialSettings{}, fmt.Errorf("transport: malformed UART settings %q", s)
	}
	settings := SerialSettings{BaudRate: baud, Parity: parity, StopBits: stopBits}
	if err := settings.Validate(); err != nil {
		return SerialSettings{}, err
	}
	return settings, nil
}

// DefaultBootloaderSettings is the line configuration every Wiren Board
// bootloader is guaranteed to answer on.
var DefaultBootloaderSettings = SerialSettings{BaudRate: 9600, Parity: ParityNone, StopBits: 2}

// charTime is the duration of one UART character (start + 8 data + parity +
// stopbits, approximated as 11 bit times) at the given baud rate.
func charTime(baudRate int) float64 {
	const bitsPerChar = 11.0
	return bitsPerChar / float64(baudRate)
}
