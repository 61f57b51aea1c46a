// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVendorString(t *testing.T) {
	tests := []struct {
		vendor Vendor
		want   string
		pci    uint16
	}{
		{VendorNVIDIA, "NVIDIA", 0x10de},
		{VendorAMD, "AMD", 0x1002},
		{VendorIntel, "INTEL", 0x8086},
		{VendorUnknown, "UNKNOWN", 0},
		{Vendor(42), "UNKNOWN", 0},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.vendor.String())
			assert.Equal(t, tt.pci, tt.vendor.PCIVendorID())
		})
	}
}

func TestVendorSupported(t *testing.T) {
	for _, v := range Vendors {
		assert.True(t, v.Supported(), v.String())
	}
	assert.False(t, VendorUnknown.Supported())
}

func TestVendorFromPCIID(t *testing.T) {
	assert.Equal(t, VendorNVIDIA, VendorFromPCIID(0x10de))
	assert.Equal(t, VendorAMD, VendorFromPCIID(0x1002))
	assert.Equal(t, VendorIntel, VendorFromPCIID(0x8086))
	assert.Equal(t, VendorUnknown, VendorFromPCIID(0x1af4))
}

func TestParseVendor(t *testing.T) {
	v, err := ParseVendor(" Nvidia ")
	require.NoError(t, err)
	assert.Equal(t, VendorNVIDIA, v)

	v, err = ParseVendor("ATI")
	require.NoError(t, err)
	assert.Equal(t, VendorAMD, v)

	_, err = ParseVendor("matrox")
	assert.Error(t, err)
}

func TestRecordJSONShape(t *testing.T) {
	rec := Record{
		Index:          1,
		Vendor:         VendorAMD,
		Name:           "AMD Radeon RX 7900 XTX",
		UUID:           "AMD-Linux-0x744C-0",
		PCIBusID:       "0000:03:00.0",
		Memory:         Memory{Total: 24560, Used: 1024, Free: 23536},
		GPUUtilization: 12,
		TemperatureC:   45,
		CoreClockMHz:   2500,
		Source:         SourceSysfs,
		Fields:         FieldSet(0).Add(FieldName).Add(FieldTemperature),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	for _, key := range []string{
		"index", "vendor", "name", "uuid", "pciBusId", "memory",
		"gpuUtilization", "memoryUtilization", "temperatureC", "powerW",
		"coreClockMHz", "memoryClockMHz", "fanSpeedPercent",
	} {
		assert.Contains(t, raw, key)
	}
	assert.Equal(t, "AMD", raw["vendor"])
	assert.Equal(t, "sysfs", raw["source"])
	assert.Equal(t, []any{"name", "temperatureC"}, raw["fields"])

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec, back)
}

func TestRecordJSONOmitsEmptyExtensions(t *testing.T) {
	data, err := json.Marshal(Record{Vendor: VendorIntel})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "source")
	assert.NotContains(t, string(data), "fields")
}

func TestRecordNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Record
		want func(t *testing.T, r Record)
	}{
		{
			name: "free derived from used",
			in:   Record{Memory: Memory{Total: 8192, Used: 2048}, Fields: FieldSet(FieldMemoryUsed)},
			want: func(t *testing.T, r Record) {
				assert.Equal(t, uint64(6144), r.Memory.Free)
				assert.InDelta(t, 25.0, r.MemoryUtilization, 0.001)
			},
		},
		{
			name: "free read and consistent is kept",
			in: Record{
				Memory: Memory{Total: 8192, Used: 2048, Free: 6143},
				Fields: FieldSet(FieldMemoryUsed).Add(FieldMemoryFree),
			},
			want: func(t *testing.T, r Record) {
				assert.Equal(t, uint64(6143), r.Memory.Free)
			},
		},
		{
			name: "inconsistent free is recomputed",
			in: Record{
				Memory: Memory{Total: 8192, Used: 2048, Free: 100},
				Fields: FieldSet(FieldMemoryUsed).Add(FieldMemoryFree),
			},
			want: func(t *testing.T, r Record) {
				assert.Equal(t, uint64(6144), r.Memory.Free)
			},
		},
		{
			name: "used derived from free",
			in:   Record{Memory: Memory{Total: 8192, Free: 6144}, Fields: FieldSet(FieldMemoryFree)},
			want: func(t *testing.T, r Record) {
				assert.Equal(t, uint64(6144), r.Memory.Free)
				assert.Equal(t, uint64(2048), r.Memory.Used)
				assert.InDelta(t, 25.0, r.MemoryUtilization, 0.001)
			},
		},
		{
			name: "free above total with no used reading",
			in:   Record{Memory: Memory{Total: 4096, Free: 5000}, Fields: FieldSet(FieldMemoryFree)},
			want: func(t *testing.T, r Record) {
				assert.Equal(t, uint64(4096), r.Memory.Free)
				assert.Equal(t, uint64(0), r.Memory.Used)
			},
		},
		{
			name: "used capped at total",
			in:   Record{Memory: Memory{Total: 100, Used: 300}},
			want: func(t *testing.T, r Record) {
				assert.Equal(t, uint64(100), r.Memory.Used)
				assert.Equal(t, uint64(0), r.Memory.Free)
			},
		},
		{
			name: "percentages clamped and floats sanitized",
			in: Record{
				GPUUtilization:    140,
				MemoryUtilization: -3,
				FanSpeedPercent:   math.NaN(),
				TemperatureC:      -12,
				PowerW:            math.Inf(1),
				Fields:            FieldSet(FieldMemoryUtilization),
			},
			want: func(t *testing.T, r Record) {
				assert.Equal(t, 100.0, r.GPUUtilization)
				assert.Equal(t, 0.0, r.MemoryUtilization)
				assert.Equal(t, 0.0, r.FanSpeedPercent)
				assert.Equal(t, 0.0, r.TemperatureC)
				assert.Equal(t, 0.0, r.PowerW)
			},
		},
		{
			name: "read memory utilization is not overwritten",
			in: Record{
				Memory:            Memory{Total: 1000, Used: 500},
				MemoryUtilization: 7,
				Fields:            FieldSet(FieldMemoryUsed).Add(FieldMemoryUtilization),
			},
			want: func(t *testing.T, r Record) {
				assert.Equal(t, 7.0, r.MemoryUtilization)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.in
			r.Normalize()
			tt.want(t, r)
			if r.Memory.Total > 0 {
				assert.LessOrEqual(t, r.Memory.Used+r.Memory.Free, r.Memory.Total+1)
				assert.GreaterOrEqual(t, r.Memory.Used+r.Memory.Free+1, r.Memory.Total)
			}
		})
	}
}

func TestFieldSet(t *testing.T) {
	var s FieldSet
	assert.False(t, s.Has(FieldPower))
	s = s.Add(FieldPower).Add(FieldUUID)
	assert.True(t, s.Has(FieldPower))
	assert.True(t, s.Has(FieldUUID))
	assert.Equal(t, []string{"uuid", "powerW"}, s.Names())
	assert.Equal(t, "coreClockMHz", FieldCoreClock.String())
}

func TestErrorWrapping(t *testing.T) {
	err := NewError("info", VendorAMD, 3, ErrBackendFailure)
	assert.True(t, errors.Is(err, ErrBackendFailure))
	assert.Equal(t, "info AMD gpu 3: API call failed", err.Error())

	err = NewError("count", VendorUnknown, -1, ErrNotInitialized)
	assert.Equal(t, "count: GPU info library not initialized", err.Error())

	var target *Error
	wrapped := fmt.Errorf("outer: %w", err)
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, "count", target.Op)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, 0, ErrorCode(nil))
	assert.Equal(t, -1, ErrorCode(ErrUnsupported))
	assert.Equal(t, -2, ErrorCode(ErrNoDevice))
	assert.Equal(t, -4, ErrorCode(NewError("info", VendorUnknown, 9, ErrInvalidIndex)))
	assert.Equal(t, -5, ErrorCode(ErrNotInitialized))
	assert.Equal(t, -5, ErrorCode(fmt.Errorf("%w: %w", ErrBackendFailure, ErrUnsupported)))
}
