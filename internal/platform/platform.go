// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package platform defines the narrow interface detection strategies use to
// reach OS-specific discovery facilities.
//
// An Adapter enumerates device handles and reads raw fields from them. Every
// handle it returns is fully valid; devices that cannot be identified are
// skipped during enumeration rather than returned half-built. Field reads are
// best effort: a missing value is reported with ok=false, never as an error.
//
// Implementations live in subpackages:
//
//   - sysfs: Linux DRM and hwmon counters under /sys/class/drm
//   - registry: Windows display adapter class keys
//   - sysprof: macOS system_profiler display report
package platform

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldID selects a raw field. Values are in the unit the facility reports;
// the unit is part of the field name.
type FieldID int

const (
	FieldName FieldID = iota
	FieldDeviceID
	FieldPCIBusID
	FieldDriverVersion
	FieldMemoryTotalBytes
	FieldMemoryUsedBytes
	FieldGPUBusyPercent
	FieldTemperatureMilliC
	FieldPowerMicroW
	FieldCoreClockMHz
	FieldMemoryClockMHz
	FieldFanPWM
	FieldFanRPM
	FieldFanMaxRPM
)

var fieldIDNames = map[FieldID]string{
	FieldName:              "name",
	FieldDeviceID:          "device_id",
	FieldPCIBusID:          "pci_bus_id",
	FieldDriverVersion:     "driver_version",
	FieldMemoryTotalBytes:  "memory_total_bytes",
	FieldMemoryUsedBytes:   "memory_used_bytes",
	FieldGPUBusyPercent:    "gpu_busy_percent",
	FieldTemperatureMilliC: "temperature_millic",
	FieldPowerMicroW:       "power_microw",
	FieldCoreClockMHz:      "core_clock_mhz",
	FieldMemoryClockMHz:    "memory_clock_mhz",
	FieldFanPWM:            "fan_pwm",
	FieldFanRPM:            "fan_rpm",
	FieldFanMaxRPM:         "fan_max_rpm",
}

// String returns the field name.
func (f FieldID) String() string {
	if name, ok := fieldIDNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FieldID(%d)", int(f))
}

// Handle identifies one device known to an Adapter. Handles are only
// meaningful to the adapter that produced them.
type Handle interface {
	// ID is a stable, adapter-specific identifier such as "card1".
	ID() string
	// VendorID is the PCI vendor id of the device.
	VendorID() uint16
}

// Value is a raw field reading: either text or an unsigned number.
type Value struct {
	Text    string
	Num     uint64
	Numeric bool
}

// Text returns a textual Value.
func Text(s string) Value { return Value{Text: s} }

// Uint returns a numeric Value.
func Uint(n uint64) Value { return Value{Num: n, Numeric: true, Text: strconv.FormatUint(n, 10)} }

// String returns the textual form.
func (v Value) String() string { return v.Text }

// Uint64 returns the numeric form, parsing text when needed. Hex text with a
// 0x prefix is accepted.
func (v Value) Uint64() (uint64, bool) {
	if v.Numeric {
		return v.Num, true
	}
	return ParseUint(v.Text)
}

// ParseUint parses decimal text, or hex text with a 0x prefix.
func ParseUint(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	base := 10
	if h, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		s, base = h, 16
	}
	n, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Adapter is a per-OS discovery facility.
type Adapter interface {
	// Name is the short name used in logs and record sources.
	Name() string
	// EnumerateDevices returns every identifiable device. An error means the
	// facility itself is unavailable.
	EnumerateDevices() ([]Handle, error)
	// ReadField reads one raw field. ok is false when the value is unknown.
	ReadField(h Handle, f FieldID) (v Value, ok bool)
}

// FilterVendor returns the handles whose PCI vendor id matches.
func FilterVendor(handles []Handle, vendorID uint16) []Handle {
	out := make([]Handle, 0, len(handles))
	for _, h := range handles {
		if h.VendorID() == vendorID {
			out = append(out, h)
		}
	}
	return out
}
