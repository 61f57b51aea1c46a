// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sysprof

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/gpuinfo/internal/platform"
)

const sampleReport = `{
  "SPDisplaysDataType" : [
    {
      "_name" : "Intel UHD Graphics 630",
      "sppci_model" : "Intel UHD Graphics 630",
      "spdisplays_vendor" : "Intel",
      "spdisplays_device-id" : "0x3e9b",
      "spdisplays_vram_shared" : "1536 MB",
      "sppci_bus" : "spdisplays_builtin"
    },
    {
      "_name" : "AMD Radeon Pro 5500M",
      "sppci_model" : "AMD Radeon Pro 5500M",
      "spdisplays_vendor" : "sppci_vendor_amd",
      "spdisplays_device-id" : "0x7340",
      "spdisplays_vram" : "8 GB",
      "sppci_bus" : "spdisplays_pcie_device"
    },
    {
      "_name" : "Apple M2",
      "sppci_model" : "Apple M2",
      "spdisplays_vendor" : "sppci_vendor_Apple"
    }
  ]
}`

func TestEnumerateDevices(t *testing.T) {
	var gotArgs []string
	a := New(func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		return []byte(sampleReport), nil
	})

	handles, err := a.EnumerateDevices()
	require.NoError(t, err)
	assert.Equal(t, []string{"system_profiler", "SPDisplaysDataType", "-json"}, gotArgs)
	require.Len(t, handles, 2, "Apple silicon has no PCI vendor and is skipped")

	assert.Equal(t, uint16(0x8086), handles[0].VendorID())
	assert.Equal(t, uint16(0x1002), handles[1].VendorID())
	assert.Equal(t, "1", handles[1].ID())

	v, ok := a.ReadField(handles[1], platform.FieldName)
	require.True(t, ok)
	assert.Equal(t, "AMD Radeon Pro 5500M", v.String())

	v, ok = a.ReadField(handles[1], platform.FieldMemoryTotalBytes)
	require.True(t, ok)
	n, _ := v.Uint64()
	assert.Equal(t, uint64(8192*1024*1024), n)

	v, ok = a.ReadField(handles[0], platform.FieldMemoryTotalBytes)
	require.True(t, ok)
	n, _ = v.Uint64()
	assert.Equal(t, uint64(1536*1024*1024), n)

	v, ok = a.ReadField(handles[0], platform.FieldDeviceID)
	require.True(t, ok)
	n, _ = v.Uint64()
	assert.Equal(t, uint64(0x3e9b), n)

	_, ok = a.ReadField(handles[1], platform.FieldTemperatureMilliC)
	assert.False(t, ok)
}

func TestEnumerateDevicesRunnerFailure(t *testing.T) {
	a := New(func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("exec: \"system_profiler\": executable file not found in $PATH")
	})
	_, err := a.EnumerateDevices()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)
}

func TestParseSizeMB(t *testing.T) {
	assert.Equal(t, uint64(8192), ParseSizeMB("8 GB"))
	assert.Equal(t, uint64(1536), ParseSizeMB("1536 MB"))
	assert.Equal(t, uint64(512), ParseSizeMB("0.5 GB"))
	assert.Equal(t, uint64(0), ParseSizeMB("lots"))
}

func TestVendorID(t *testing.T) {
	assert.Equal(t, uint16(0x1002), vendorID("AMD (0x1002)"))
	assert.Equal(t, uint16(0x10de), vendorID("sppci_vendor_nvidia"))
	assert.Equal(t, uint16(0x8086), vendorID("Intel"))
	assert.Equal(t, uint16(0), vendorID("sppci_vendor_Apple"))
}
