// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package registry

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/windows/registry"
)

// New returns a Reader over HKLM display class keys.
func New() *Reader {
	return &Reader{source: readDisplayClass}
}

func readDisplayClass() ([]Entry, error) {
	class, err := registry.OpenKey(registry.LOCAL_MACHINE, DisplayClassKey, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer class.Close()

	names, err := class.ReadSubKeyNames(-1)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var entries []Entry
	for _, name := range names {
		if !isAdapterKey(name) {
			continue
		}
		e, ok := readEntry(name)
		if ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// readEntry reads one adapter subkey. Keys that cannot be opened (access
// denied on some virtual adapters) are skipped.
func readEntry(name string) (Entry, bool) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, DisplayClassKey+`\`+name, registry.QUERY_VALUE)
	if err != nil {
		return Entry{}, false
	}
	defer k.Close()

	e := Entry{Key: name}
	e.DriverDesc, _, _ = k.GetStringValue("DriverDesc")
	e.MatchingDeviceID, _, _ = k.GetStringValue("MatchingDeviceId")
	e.DriverVersion, _, _ = k.GetStringValue("DriverVersion")
	e.MemorySize = readMemorySize(k)
	return e, true
}

// readMemorySize prefers the 64-bit qwMemorySize value written by newer
// drivers and falls back to MemorySize, stored as DWORD or 4-byte binary.
func readMemorySize(k registry.Key) uint64 {
	if v, _, err := k.GetIntegerValue("HardwareInformation.qwMemorySize"); err == nil && v > 0 {
		return v
	}
	if v, _, err := k.GetIntegerValue("HardwareInformation.MemorySize"); err == nil && v > 0 {
		return v
	}
	if b, _, err := k.GetBinaryValue("HardwareInformation.MemorySize"); err == nil && len(b) >= 4 {
		return uint64(binary.LittleEndian.Uint32(b[:4]))
	}
	return 0
}
