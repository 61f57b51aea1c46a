// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// Vendor identifies the silicon vendor of a GPU.
type Vendor int

const (
	// VendorUnknown is used when the vendor could not be determined.
	VendorUnknown Vendor = iota
	// VendorNVIDIA covers GeForce, Quadro, Tesla and data center parts.
	VendorNVIDIA
	// VendorAMD covers Radeon and Instinct parts.
	VendorAMD
	// VendorIntel covers integrated graphics and Arc discrete parts.
	VendorIntel
)

// PCI vendor identifiers.
const (
	PCIVendorNVIDIA uint16 = 0x10de
	PCIVendorAMD    uint16 = 0x1002
	PCIVendorIntel  uint16 = 0x8086
)

// Vendors is the fixed order in which vendor slices appear in the global
// index space.
var Vendors = []Vendor{VendorNVIDIA, VendorAMD, VendorIntel}

// String returns the wire name of the vendor.
func (v Vendor) String() string {
	switch v {
	case VendorNVIDIA:
		return "NVIDIA"
	case VendorAMD:
		return "AMD"
	case VendorIntel:
		return "INTEL"
	default:
		return "UNKNOWN"
	}
}

// Supported reports whether the library has a backend for the vendor.
func (v Vendor) Supported() bool {
	return v == VendorNVIDIA || v == VendorAMD || v == VendorIntel
}

// PCIVendorID returns the PCI vendor id, or 0 for VendorUnknown.
func (v Vendor) PCIVendorID() uint16 {
	switch v {
	case VendorNVIDIA:
		return PCIVendorNVIDIA
	case VendorAMD:
		return PCIVendorAMD
	case VendorIntel:
		return PCIVendorIntel
	default:
		return 0
	}
}

// VendorFromPCIID maps a PCI vendor id to a Vendor.
func VendorFromPCIID(id uint16) Vendor {
	switch id {
	case PCIVendorNVIDIA:
		return VendorNVIDIA
	case PCIVendorAMD:
		return VendorAMD
	case PCIVendorIntel:
		return VendorIntel
	default:
		return VendorUnknown
	}
}

// ParseVendor parses a vendor name case-insensitively.
func ParseVendor(s string) (Vendor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nvidia":
		return VendorNVIDIA, nil
	case "amd", "ati":
		return VendorAMD, nil
	case "intel":
		return VendorIntel, nil
	case "unknown":
		return VendorUnknown, nil
	default:
		return VendorUnknown, fmt.Errorf("unknown vendor %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Vendor) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Vendor) UnmarshalText(text []byte) error {
	parsed, err := ParseVendor(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
