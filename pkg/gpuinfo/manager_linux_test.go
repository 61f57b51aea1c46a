// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build linux

package gpuinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/gpuinfo/internal/detect"
	"github.com/jeranaias/gpuinfo/internal/platform/sysfs/sysfstest"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

func TestRecordInvariants(t *testing.T) {
	root := sysfstest.Build(t, "",
		sysfstest.AMD("card0", "0000:03:00.0"),
		sysfstest.Intel("card1", "0000:00:02.0"),
	)
	m := New(WithDetectOptions(detect.Options{
		SysfsRoot: root,
		Order: map[model.Vendor][]string{
			model.VendorNVIDIA: {"sysfs"},
			model.VendorAMD:    {"sysfs"},
			model.VendorIntel:  {"sysfs"},
		},
	}))
	require.NoError(t, m.Initialize())
	defer m.Cleanup()

	all, err := m.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, all[0])
	assert.Equal(t, model.VendorAMD, all[0].Vendor)
	assert.Equal(t, uint64(24560), all[0].Memory.Total)
	require.NotNil(t, all[1])
	assert.Equal(t, model.VendorIntel, all[1].Vendor)
	assert.Equal(t, 1, all[1].Index)

	for _, rec := range all {
		if rec == nil {
			continue
		}
		if rec.Memory.Total > 0 {
			sum := rec.Memory.Used + rec.Memory.Free
			assert.InDelta(t, float64(rec.Memory.Total), float64(sum), 1)
		}
		for _, p := range []float64{rec.GPUUtilization, rec.MemoryUtilization, rec.FanSpeedPercent} {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 100.0)
		}
		assert.NotEmpty(t, rec.Name)
		assert.NotEmpty(t, rec.UUID)
		assert.NotEmpty(t, rec.PCIBusID)
	}
}
