// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package device implements spec.md §4.3: Wiren-Board-specific semantics
// layered on top of an Instrument - the common register map, identity and
// version queries, reboot-to-bootloader, and UART auto-discovery.
package device

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/internal/instrument"
	"github.com/wirenboard/wb-fw-updater/internal/transport"
)

// Common register map, spec.md §4.3.
const (
	RegUptime              = 104
	RegBaudRate             = 110
	RegParity               = 111
	RegStopBits             = 112
	RegReboot               = 120
	RegVIn                  = 121
	RegSlaveID              = 128
	RegRebootToBootloader   = 129
	RegDeviceSignature      = 200
	RegFWVersion            = 250
	RegSerialNumber         = 270
	RegFWSignature          = 290
	RegBootloaderVersion    = 330

	deviceSignatureRegs   = 6
	fwVersionRegs         = 16
	fwSignatureRegs       = 12
	bootloaderVersionRegs = 8
)

// InfoBlockStart is the bootloader INFO register, reused here only for the
// deliberately-invalid probe write in IsInBootloader - the Flasher owns the
// rest of the bootloader protocol.
const InfoBlockStart = 0x1000

var wbMapSignature = regexp.MustCompile(`MAP\d+`)

// Device is a single addressable Wiren Board peripheral: a port, a slave
// id, and the Instrument it owns exclusively (spec.md §3).
type Device struct {
	Instrument *instrument.Instrument
	Name       string
	SlaveID    int
	Port       string
}

// New wraps an Instrument already opened on the right port/slave id.
func New(name string, slaveID int, port string, inst *instrument.Instrument) *Device {
	return &Device{Instrument: inst, Name: name, SlaveID: slaveID, Port: port}
}

// Ident renders "name (slave_id, port)", the identifier spec.md §7 requires
// in every bucketed log line.
func (d *Device) Ident() string {
	return d.Name + " (" + itoa(d.SlaveID) + ", " + d.Port + ")"
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Uptime reads register 104 as a big-endian u32 seconds counter.
func (d *Device) Uptime(ctx context.Context) (time.Duration, error) {
	v, err := d.Instrument.ReadU32(ctx, RegUptime, true, false)
	return time.Duration(v) * time.Second, err
}

// DeviceSignature reads the 6-register model identifier, e.g. "WBMAP12E".
func (d *Device) DeviceSignature(ctx context.Context) (string, error) {
	return d.Instrument.ReadString(ctx, RegDeviceSignature, deviceSignatureRegs)
}

// FWVersion reads the 16-register firmware version string.
func (d *Device) FWVersion(ctx context.Context) (string, error) {
	return d.Instrument.ReadString(ctx, RegFWVersion, fwVersionRegs)
}

// FWSignature reads the 12-register firmware signature.
func (d *Device) FWSignature(ctx context.Context) (string, error) {
	return d.Instrument.ReadString(ctx, RegFWSignature, fwSignatureRegs)
}

// BootloaderVersion reads the 8-register bootloader version string, valid
// only while the device is in its bootloader.
func (d *Device) BootloaderVersion(ctx context.Context) (string, error) {
	return d.Instrument.ReadString(ctx, RegBootloaderVersion, bootloaderVersionRegs)
}

// BootloaderFwSignature reads register 290 while the device is already
// known to be in bootloader mode (SPEC_FULL.md §C.1): newer bootloaders
// expose the signature of the firmware they were flashed from, which lets
// recover_device_iteration skip the identity store entirely when it's
// available. Older bootloaders reject the read; that is reported as
// "absent", not as an error.
func (d *Device) BootloaderFwSignature(ctx context.Context) (sig string, ok bool, err error) {
	sig, err = d.FWSignature(ctx)
	if err != nil {
		var illegal *errs.IllegalRequestError
		if errors.As(err, &illegal) {
			return "", false, nil
		}
		return "", false, err
	}
	return sig, sig != "", nil
}

// SerialNumber reads the serial number, picking the WB-MAP dialect when
// deviceSignature matches *MAP\d+* (spec.md §4.3).
func (d *Device) SerialNumber(ctx context.Context, deviceSignature string) (uint32, error) {
	if wbMapSignature.MatchString(deviceSignature) {
		regs, err := d.Instrument.ReadU16Block(ctx, RegSerialNumber, 2, false)
		if err != nil {
			return 0, err
		}
		return uint32(regs[0]&0xFF)<<16 | uint32(regs[1]), nil
	}
	return d.Instrument.ReadU32(ctx, RegSerialNumber, true, false)
}

// Reboot writes 1 to the reboot register. The device does not answer - a
// NoResponseError here is the expected outcome, not a failure.
func (d *Device) Reboot(ctx context.Context) error {
	err := d.Instrument.WriteU16(ctx, RegReboot, 1)
	var noResp *errs.NoResponseError
	if errors.As(err, &noResp) {
		return nil
	}
	return err
}

// RebootToBootloader writes 1 to register 129 and sleeps ~0.5s, per
// spec.md §4.3. The caller is responsible for then verifying the device
// refuses a normal read for the bootloader window.
func (d *Device) RebootToBootloader(ctx context.Context) error {
	err := d.Instrument.WriteU16(ctx, RegRebootToBootloader, 1)
	var noResp *errs.NoResponseError
	if err != nil && !errors.As(err, &noResp) {
		return err
	}
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// IsInBootloader implements spec.md §4.3: try a normal slave_id read first;
// if it answers, the device is alive, not in bootloader. Otherwise switch
// to 9600-N-2 and send a deliberately-invalid 16-register zero write to the
// INFO block; exception 04 confirms a bootloader is present and listening.
func (d *Device) IsInBootloader(ctx context.Context) (bool, error) {
	if _, err := d.Instrument.ReadU16(ctx, RegSlaveID, false); err == nil {
		return false, nil
	}

	original := d.Instrument.Settings()
	if err := d.Instrument.SetSettings(transport.DefaultBootloaderSettings); err != nil {
		return false, err
	}
	defer d.Instrument.SetSettings(original)

	zeros := make([]uint16, 16)
	err := d.Instrument.WriteU16Block(ctx, InfoBlockStart, zeros)
	var slaveErr *errs.SlaveReportedException
	if errors.As(err, &slaveErr) {
		return true, nil
	}
	if err == nil {
		// A bootloader accepting a real info write is unusual but not our
		// call to make here; the Flasher will find out for real.
		return true, nil
	}
	return false, nil
}

// preferredBaudRates lists the product's baud dimension in the order
// spec.md §4.3 prescribes: 9600 and 115200 first (the two speeds almost
// every fielded device actually uses), then the rest ascending.
var preferredBaudRates = []int{9600, 115200, 1200, 2400, 4800, 19200, 38400, 57600}

var preferredParities = []byte{transport.ParityNone, transport.ParityOdd, transport.ParityEven}

var preferredStopBits = []int{2, 1}

// autoDiscover implements spec.md §4.3's UART auto-discovery: iterate
// the baud/parity/stopbits product in preferred order and execute probe
// against each candidate setting, applied through d.Instrument. The first
// candidate probe accepts wins and is left applied; the product exhausting
// without a single acceptance surfaces UARTSettingsNotFoundError.
func (d *Device) autoDiscover(ctx context.Context, probe func(context.Context) (bool, error)) (transport.SerialSettings, error) {
	for _, baud := range preferredBaudRates {
		for _, parity := range preferredParities {
			for _, stopBits := range preferredStopBits {
				settings := transport.SerialSettings{BaudRate: baud, Parity: parity, StopBits: stopBits}
				if err := d.Instrument.SetSettings(settings); err != nil {
					continue
				}
				ok, err := probe(ctx)
				if err != nil {
					continue
				}
				if ok {
					return settings, nil
				}
			}
		}
	}
	return transport.SerialSettings{}, &errs.UARTSettingsNotFoundError{SlaveID: d.SlaveID}
}

// AutoDiscoverUART finds the UART settings a live, non-bootloader device
// answers normal reads on. On success, d.Instrument is left on that
// setting.
func (d *Device) AutoDiscoverUART(ctx context.Context) (transport.SerialSettings, error) {
	return d.autoDiscover(ctx, func(ctx context.Context) (bool, error) {
		_, err := d.Instrument.ReadU16(ctx, RegSlaveID, false)
		return err == nil, nil
	})
}

// AutoDiscoverBootloaderUART finds the UART settings a device sitting in
// its bootloader answers the deliberately-invalid INFO probe on. Per
// spec.md §4.3, a candidate only counts as a match if, after the probe, the
// device also refuses a normal slave_id read - bootloaders answer some
// writes but not reads, and that asymmetry is the signal.
func (d *Device) AutoDiscoverBootloaderUART(ctx context.Context) (transport.SerialSettings, error) {
	return d.autoDiscover(ctx, func(ctx context.Context) (bool, error) {
		zeros := make([]uint16, 16)
		err := d.Instrument.WriteU16Block(ctx, InfoBlockStart, zeros)
		var slaveErr *errs.SlaveReportedException
		if !errors.As(err, &slaveErr) {
			return false, nil
		}
		_, readErr := d.Instrument.ReadU16(ctx, RegSlaveID, false)
		return readErr != nil, nil
	})
}
