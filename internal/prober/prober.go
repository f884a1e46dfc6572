// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package prober implements spec.md §4.7's probing half: classifying each
// configured device as alive, in_bootloader, disconnected,
// too_old_to_update or foreign, by first establishing a working UART
// connection (configured settings, falling back to internal/device's
// auto-discovery) and then running the WB identity check of spec.md §4.3.
//
// Per spec.md §9's design note, classification is expressed as a sum type
// (Outcome plus the fields a given Outcome carries) rather than by raising
// exceptions up through the call stack.
package prober

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wirenboard/wb-fw-updater/internal/device"
	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/internal/identitystore"
	"github.com/wirenboard/wb-fw-updater/internal/instrument"
	"github.com/wirenboard/wb-fw-updater/internal/transport"
)

// Outcome is the bucket a probed device falls into, spec.md §3/§4.7.
type Outcome int

const (
	Alive Outcome = iota
	InBootloader
	Disconnected
	TooOldToUpdate
	Foreign
)

func (o Outcome) String() string {
	switch o {
	case Alive:
		return "alive"
	case InBootloader:
		return "in_bootloader"
	case Disconnected:
		return "disconnected"
	case TooOldToUpdate:
		return "too_old_to_update"
	case Foreign:
		return "foreign"
	default:
		return "unknown"
	}
}

// Result is the outcome of probing one configured device, carrying
// whatever that Outcome lets us learn.
type Result struct {
	Outcome      Outcome
	Device       *device.Device
	Settings     transport.SerialSettings
	FWSignature  string
	DeviceSig    string
	FWVersion    string
	SerialNumber uint32
}

// MinResponseTimeout is the global floor spec.md §4.7 takes the max
// against, guarding against a driver config that specifies an
// unreasonably short per-device timeout.
const MinResponseTimeout = 500 * time.Millisecond

// EffectiveTimeout takes the max of the port's, the device's, and the
// global floor, per spec.md §4.7. A zero duration means "unset".
func EffectiveTimeout(portTimeout, deviceTimeout time.Duration) time.Duration {
	t := MinResponseTimeout
	if portTimeout > t {
		t = portTimeout
	}
	if deviceTimeout > t {
		t = deviceTimeout
	}
	return t
}

// ProbeDevice implements get_correct_modbus_connection followed by the
// identity check (spec.md §4.3/§4.7): try the configured UART settings
// first, fall back to full auto-discovery, and - if no settings answer a
// normal read at all - check whether the device is sitting in its
// bootloader instead, at either the configured settings or 9600-N-2.
func ProbeDevice(ctx context.Context, dev *device.Device) (Result, error) {
	configured := dev.Instrument.Settings()

	if settings, ok := connect(ctx, dev); ok {
		result, err := identityCheck(ctx, dev)
		if err != nil {
			return Result{}, err
		}
		result.Device = dev
		result.Settings = settings
		return result, nil
	}

	// No UART settings answered a normal read: check for a bootloader
	// before giving up as disconnected.
	if restoreErr := dev.Instrument.SetSettings(configured); restoreErr != nil {
		return Result{}, restoreErr
	}
	if inBL, err := dev.IsInBootloader(ctx); err == nil && inBL {
		return Result{Outcome: InBootloader, Device: dev, Settings: configured}, nil
	}

	if !configured.Equal(transport.DefaultBootloaderSettings) {
		if err := dev.Instrument.SetSettings(transport.DefaultBootloaderSettings); err == nil {
			if inBL, err := dev.IsInBootloader(ctx); err == nil && inBL {
				return Result{Outcome: InBootloader, Device: dev, Settings: transport.DefaultBootloaderSettings}, nil
			}
		}
		dev.Instrument.SetSettings(configured)
	}

	return Result{Outcome: Disconnected, Device: dev}, nil
}

// connect tries the device's already-configured UART settings (the cheap
// path, true for the overwhelming majority of probes once a fleet has
// settled) before falling back to the full auto-discovery sweep.
func connect(ctx context.Context, dev *device.Device) (transport.SerialSettings, bool) {
	configured := dev.Instrument.Settings()
	if _, err := dev.Instrument.ReadU16(ctx, device.RegSlaveID, false); err == nil {
		return configured, true
	}
	settings, err := dev.AutoDiscoverUART(ctx)
	if err != nil {
		dev.Instrument.SetSettings(configured)
		return transport.SerialSettings{}, false
	}
	return settings, true
}

// identityCheck implements spec.md §4.3's is-WB-device steps 1-4. The
// device is already known to answer normal reads at its current settings.
func identityCheck(ctx context.Context, dev *device.Device) (Result, error) {
	// Step 1: serial_number, generic dialect. NoResponseError here means
	// the line dropped the device between connect() and here; it is still
	// "disconnected", not an unexpected error.
	_, err := dev.Instrument.ReadU32(ctx, device.RegSerialNumber, true, false)
	if err != nil {
		var noResp *errs.NoResponseError
		if errors.As(err, &noResp) {
			return Result{Outcome: Disconnected}, nil
		}
		// Step 3: exception 04 (SlaveReportedException) on the very first
		// WB-specific register read means this isn't a WB device at all.
		var slaveErr *errs.SlaveReportedException
		if errors.As(err, &slaveErr) {
			return Result{Outcome: Foreign}, nil
		}
		var illegal *errs.IllegalRequestError
		if errors.As(err, &illegal) {
			return Result{Outcome: Foreign}, nil
		}
		return Result{}, err
	}

	// Step 2: fw_signature. IllegalRequest means a legacy device with no
	// such register at all.
	fwSig, err := dev.FWSignature(ctx)
	if err != nil {
		var illegal *errs.IllegalRequestError
		if errors.As(err, &illegal) {
			return Result{Outcome: TooOldToUpdate}, nil
		}
		var slaveErr *errs.SlaveReportedException
		if errors.As(err, &slaveErr) {
			return Result{Outcome: Foreign}, nil
		}
		return Result{}, err
	}

	// Step 4: device_signature, fw_version, uptime. Any ModbusException
	// here means the device only coincidentally answered the registers
	// probed so far.
	deviceSig, err := dev.DeviceSignature(ctx)
	if err != nil {
		if isModbusException(err) {
			return Result{Outcome: Foreign}, nil
		}
		return Result{}, err
	}
	fwVersion, err := dev.FWVersion(ctx)
	if err != nil {
		if isModbusException(err) {
			return Result{Outcome: Foreign}, nil
		}
		return Result{}, err
	}
	if _, err := dev.Uptime(ctx); err != nil {
		if isModbusException(err) {
			return Result{Outcome: Foreign}, nil
		}
		return Result{}, err
	}

	serialNumber, err := dev.SerialNumber(ctx, deviceSig)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Outcome:      Alive,
		FWSignature:  fwSig,
		DeviceSig:    deviceSig,
		FWVersion:    fwVersion,
		SerialNumber: serialNumber,
	}, nil
}

func isModbusException(err error) bool {
	var illegal *errs.IllegalRequestError
	var slaveErr *errs.SlaveReportedException
	return errors.As(err, &illegal) || errors.As(err, &slaveErr)
}

// ProbeSpec names one device to probe: enough to build an Instrument over
// an already-open Transport.
type ProbeSpec struct {
	Name     string
	SlaveID  int
	Port     string
	Settings transport.SerialSettings
	Timeout  time.Duration
}

// ProbeAll implements spec.md §4.7's probe_all_devices: probe every
// configured device in configuration order, saving the (port, slave_id) ->
// fw_signature mapping for everything found alive. Transports for the
// same port share their underlying line (internal/transport), so
// transactions issued against different devices on one port are still
// strictly sequential even though ProbeAll itself does not parallelize
// across ports - the orchestrator's bulk commands do that, one worker per
// port, each calling ProbeAll on that port's devices. A transport open
// failure or an unexpected probe error stops the walk: ProbeAll returns the
// results gathered so far together with that error.
func ProbeAll(ctx context.Context, specs []ProbeSpec, store *identitystore.Store) ([]Result, error) {
	results := make([]Result, 0, len(specs))
	for _, spec := range specs {
		tr, err := transport.Open(spec.Port, spec.Settings)
		if err != nil {
			return results, err
		}
		inst := instrument.New(tr, byte(spec.SlaveID), spec.Timeout)
		dev := device.New(spec.Name, spec.SlaveID, spec.Port, inst)

		result, err := ProbeDevice(ctx, dev)
		if err != nil {
			slog.Error("unexpected error probing device", "device", dev.Ident(), "err", err)
			return results, err
		}

		slog.Info("probed device", "device", dev.Ident(), "outcome", result.Outcome.String())
		if result.Outcome == Alive && store != nil {
			if err := store.Save(IdentityKey(spec.Port, spec.SlaveID), result.FWSignature); err != nil {
				slog.Warn("failed to persist identity", "device", dev.Ident(), "err", err)
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// IdentityKey is the (port, slave_id) composite key identitystore.Store
// indexes by; the orchestrator package builds the same key independently
// when recovering a device outside of a ProbeAll pass.
func IdentityKey(port string, slaveID int) string {
	return port + "#" + itoa(slaveID)
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
