// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package driverconfig loads wb-mqtt-serial's JSON driver configuration:
// the list of serial ports and, per port, the devices addressed on it -
// spec.md §4.1/§4.7's source of truth for what to probe. The wb-mqtt-serial
// config is JSON, unlike the YAML release manifest in internal/release, so
// this gets its own viper.New() instance configured for "json".
package driverconfig

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/internal/transport"
)

// Device is one configured slave on a Port.
type Device struct {
	Name              string `mapstructure:"name"`
	DeviceType        string `mapstructure:"device_type"`
	SlaveID           string `mapstructure:"slave_id"`
	ResponseTimeoutMS int    `mapstructure:"response_timeout_ms"`
	// Enabled is a pointer so an absent key (every hand-written sample and
	// every config predating this field) defaults to enabled rather than
	// to Go's zero value for bool.
	Enabled *bool `mapstructure:"enabled"`
}

// Port is one serial line and the devices wb-mqtt-serial expects on it.
type Port struct {
	Path              string   `mapstructure:"path"`
	BaudRate          int      `mapstructure:"baud_rate"`
	Parity            string   `mapstructure:"parity"`
	StopBits          int      `mapstructure:"stop_bits"`
	ResponseTimeoutMS int      `mapstructure:"response_timeout_ms"`
	Enabled           *bool    `mapstructure:"enabled"`
	// EchoSkip enables transport.SerialSettings.EchoSkip for every device
	// on this port - the "foregoing noise cancelling" quirk (spec.md §4.1)
	// is a per-line hardware property wb-mqtt-serial's config already
	// knows about, not something this tool auto-detects.
	EchoSkip bool     `mapstructure:"echo_skip"`
	Devices  []Device `mapstructure:"devices"`
}

// Config is the root of wb-mqtt-serial's driver configuration.
type Config struct {
	Ports []Port `mapstructure:"ports"`
}

// ResolvedDevice is a Device normalized and validated against the common
// register-map assumptions: a bare integer slave id, and the WBIO- prefix
// rewritten to WB-MIO with its trailing ":N" suffix stripped into SlaveID,
// per SPEC_FULL.md §C.1 (wb-mqtt-serial historically folded the I/O module
// index into the device_type string for WBIO- devices).
type ResolvedDevice struct {
	Name       string
	DeviceType string
	SlaveID    int
	Port       string
	Settings   transport.SerialSettings
	// ResponseTimeoutMS is this device's own override, 0 if unset - the
	// caller takes the max of this, the port's, and a global floor
	// (spec.md §4.7).
	ResponseTimeoutMS int
	PortResponseTimeoutMS int
	// Skip is true for entries that aren't addressable Wiren Board devices
	// at all (a slave_id that does not parse as an integer) - they are
	// reported, not probed. An empty device_type does not set Skip.
	Skip bool
}

// Load reads path (or wb-mqtt-serial's default search locations if path is
// empty) and returns every configured device, normalized.
func Load(path string) ([]ResolvedDevice, error) {
	v := viper.New()
	v.SetConfigType("json")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("wb-mqtt-serial")
		v.AddConfigPath("/etc/wb-mqtt-serial.conf.d")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}
	v.SetDefault("ports", []map[string]any{})

	if err := v.ReadInConfig(); err != nil {
		return nil, &errs.ConfigParsingError{Reason: fmt.Errorf("driverconfig: read config: %w", err)}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &errs.ConfigParsingError{Reason: fmt.Errorf("driverconfig: unmarshal config: %w", err)}
	}

	var out []ResolvedDevice
	for _, port := range cfg.Ports {
		if !boolDefault(port.Enabled, true) {
			continue
		}
		settings := transport.SerialSettings{
			BaudRate: port.BaudRate,
			Parity:   parityByte(port.Parity),
			StopBits: port.StopBits,
			EchoSkip: port.EchoSkip,
		}
		for _, dev := range port.Devices {
			if !boolDefault(dev.Enabled, true) {
				continue
			}
			resolved := resolve(dev, port.Path, settings)
			resolved.ResponseTimeoutMS = dev.ResponseTimeoutMS
			resolved.PortResponseTimeoutMS = port.ResponseTimeoutMS
			out = append(out, resolved)
		}
	}
	return out, nil
}

func boolDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func parityByte(s string) byte {
	if s == "" {
		return transport.ParityNone
	}
	return strings.ToUpper(s)[0]
}

func resolve(dev Device, portPath string, settings transport.SerialSettings) ResolvedDevice {
	deviceType := dev.DeviceType
	slaveIDField := dev.SlaveID

	// WBIO- device types historically carry the module index after a colon
	// in slave_id (e.g. "12:3"); rewrite to the WB-MIO family and split the
	// index out, per SPEC_FULL.md §C.1.
	if strings.HasPrefix(deviceType, "WBIO-") {
		deviceType = "WB-MIO" + strings.TrimPrefix(deviceType, "WBIO")
		if idx := strings.Index(slaveIDField, ":"); idx >= 0 {
			slaveIDField = slaveIDField[:idx]
		}
	}

	slaveID, err := strconv.Atoi(strings.TrimSpace(slaveIDField))
	if err != nil {
		return ResolvedDevice{Name: dev.Name, DeviceType: deviceType, Port: portPath, Skip: true}
	}

	return ResolvedDevice{
		Name:       dev.Name,
		DeviceType: deviceType,
		SlaveID:    slaveID,
		Port:       portPath,
		Settings:   settings,
	}
}
