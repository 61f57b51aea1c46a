// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry enumerates display adapters from the Windows device class
// registry key. It gives identity and dedicated memory size but no live
// telemetry.
package registry

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/jeranaias/gpuinfo/internal/platform"
)

// DisplayClassKey is the device class key for display adapters.
const DisplayClassKey = `SYSTEM\CurrentControlSet\Control\Class\{4d36e968-e325-11ce-bfc1-08002be10318}`

// ErrUnavailable is returned when the registry cannot be read on this OS.
var ErrUnavailable = errors.New("registry: display class unavailable")

var matchingIDRegex = regexp.MustCompile(`(?i)VEN_([0-9A-F]{4})&DEV_([0-9A-F]{4})`)

// Entry is the set of values read from one adapter subkey.
type Entry struct {
	Key              string
	DriverDesc       string
	MatchingDeviceID string
	DriverVersion    string
	MemorySize       uint64
}

// Adapter is one display adapter subkey.
type Adapter struct {
	entry    Entry
	vendorID uint16
	deviceID uint16
}

// ID returns the four digit subkey name.
func (a *Adapter) ID() string { return a.entry.Key }

// VendorID returns the PCI vendor id parsed from MatchingDeviceId.
func (a *Adapter) VendorID() uint16 { return a.vendorID }

// Reader implements platform.Adapter.
type Reader struct {
	source func() ([]Entry, error)
}

// NewFromEntries returns a Reader over a fixed entry list.
func NewFromEntries(entries []Entry) *Reader {
	return &Reader{source: func() ([]Entry, error) { return entries, nil }}
}

// Name implements platform.Adapter.
func (r *Reader) Name() string { return "registry" }

// EnumerateDevices returns adapters whose MatchingDeviceId names a PCI
// vendor. Virtual and remote display drivers have none and are skipped.
func (r *Reader) EnumerateDevices() ([]platform.Handle, error) {
	entries, err := r.source()
	if err != nil {
		return nil, err
	}
	var out []platform.Handle
	for _, e := range entries {
		ven, dev, ok := ParseMatchingDeviceID(e.MatchingDeviceID)
		if !ok {
			continue
		}
		out = append(out, &Adapter{entry: e, vendorID: ven, deviceID: dev})
	}
	return out, nil
}

// ReadField implements platform.Adapter.
func (r *Reader) ReadField(h platform.Handle, f platform.FieldID) (platform.Value, bool) {
	a, ok := h.(*Adapter)
	if !ok {
		return platform.Value{}, false
	}
	switch f {
	case platform.FieldName:
		if a.entry.DriverDesc != "" {
			return platform.Text(a.entry.DriverDesc), true
		}
	case platform.FieldDeviceID:
		return platform.Uint(uint64(a.deviceID)), true
	case platform.FieldDriverVersion:
		if a.entry.DriverVersion != "" {
			return platform.Text(a.entry.DriverVersion), true
		}
	case platform.FieldMemoryTotalBytes:
		if a.entry.MemorySize > 0 {
			return platform.Uint(a.entry.MemorySize), true
		}
	}
	return platform.Value{}, false
}

// ParseMatchingDeviceID extracts vendor and device ids from a hardware id
// such as PCI\VEN_1002&DEV_73BF&SUBSYS_...
func ParseMatchingDeviceID(id string) (vendor, device uint16, ok bool) {
	m := matchingIDRegex.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return 0, 0, false
	}
	v, err1 := strconv.ParseUint(m[1], 16, 16)
	d, err2 := strconv.ParseUint(m[2], 16, 16)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint16(v), uint16(d), true
}

// isAdapterKey reports whether a subkey name is a numbered adapter entry
// rather than "Properties" or "Configuration".
func isAdapterKey(name string) bool {
	if len(name) != 4 {
		return false
	}
	_, err := strconv.Atoi(name)
	return err == nil
}
