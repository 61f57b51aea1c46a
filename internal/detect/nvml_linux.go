// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build linux

package detect

import (
	"fmt"
	"strings"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/jeranaias/gpuinfo/internal/loader"
	"github.com/jeranaias/gpuinfo/internal/units"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

// DefaultNVMLLibrary is the soname opened when no path is configured.
const DefaultNVMLLibrary = "libnvidia-ml.so.1"

// =============================================================================
// NVML STRATEGY
// =============================================================================

// NVMLStrategy reads NVIDIA devices through the NVIDIA management library.
// The library is opened and initialized once on first use and shut down by
// Close.
type NVMLStrategy struct {
	lib *loader.Loader[nvml.Interface]
}

// NewNVMLStrategy returns a strategy that dlopens libraryPath. An empty path
// means DefaultNVMLLibrary.
func NewNVMLStrategy(libraryPath string) *NVMLStrategy {
	if libraryPath == "" {
		libraryPath = DefaultNVMLLibrary
	}
	return newNVMLStrategy(func() nvml.Interface {
		return nvml.New(nvml.WithLibraryPath(libraryPath))
	})
}

func newNVMLStrategy(open func() nvml.Interface) *NVMLStrategy {
	acquire := func() (nvml.Interface, error) {
		lib := open()
		if ret := lib.Init(); ret != nvml.SUCCESS {
			return nil, fmt.Errorf("failed to initialize NVML: %s", lib.ErrorString(ret))
		}
		return lib, nil
	}
	release := func(lib nvml.Interface) error {
		if ret := lib.Shutdown(); ret != nvml.SUCCESS {
			return fmt.Errorf("failed to shutdown NVML: %s", lib.ErrorString(ret))
		}
		return nil
	}
	return &NVMLStrategy{lib: loader.New(acquire, release)}
}

// Name implements Strategy.
func (s *NVMLStrategy) Name() string { return string(model.SourceNVML) }

// Probe implements Strategy.
func (s *NVMLStrategy) Probe() error {
	_, err := s.lib.Get()
	return err
}

// Count implements Strategy.
func (s *NVMLStrategy) Count() (int, error) {
	lib, err := s.lib.Get()
	if err != nil {
		return 0, err
	}
	n, ret := lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get device count: %s", lib.ErrorString(ret))
	}
	return n, nil
}

// Info implements Strategy. Only the device handle is required; every other
// query that fails leaves its field at zero.
func (s *NVMLStrategy) Info(i int) (*model.Record, error) {
	lib, err := s.lib.Get()
	if err != nil {
		return nil, err
	}
	dev, ret := lib.DeviceGetHandleByIndex(i)
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to get device handle for GPU %d: %s", i, lib.ErrorString(ret))
	}

	rec := &model.Record{Index: i, Vendor: model.VendorNVIDIA, Source: model.SourceNVML}

	if name, ret := dev.GetName(); ret == nvml.SUCCESS && name != "" {
		rec.Name = name
		rec.Fields = rec.Fields.Add(model.FieldName)
	}
	if uuid, ret := dev.GetUUID(); ret == nvml.SUCCESS && uuid != "" {
		rec.UUID = uuid
		rec.Fields = rec.Fields.Add(model.FieldUUID)
	}
	if pci, ret := dev.GetPciInfo(); ret == nvml.SUCCESS {
		if bus := convertNVMLCString(pci.BusIdLegacy); bus != "" {
			rec.PCIBusID = bus
			rec.Fields = rec.Fields.Add(model.FieldPCIBusID)
		}
	}
	if mem, ret := dev.GetMemoryInfo(); ret == nvml.SUCCESS {
		rec.Memory = model.Memory{
			Total: units.BytesToMB(mem.Total),
			Used:  units.BytesToMB(mem.Used),
			Free:  units.BytesToMB(mem.Free),
		}
		rec.Fields = rec.Fields.Add(model.FieldMemoryTotal).Add(model.FieldMemoryUsed).Add(model.FieldMemoryFree)
	}
	if util, ret := dev.GetUtilizationRates(); ret == nvml.SUCCESS {
		rec.GPUUtilization = float64(util.Gpu)
		rec.MemoryUtilization = float64(util.Memory)
		rec.Fields = rec.Fields.Add(model.FieldGPUUtilization).Add(model.FieldMemoryUtilization)
	}
	if temp, ret := dev.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
		rec.TemperatureC = float64(temp)
		rec.Fields = rec.Fields.Add(model.FieldTemperature)
	}
	if mw, ret := dev.GetPowerUsage(); ret == nvml.SUCCESS {
		rec.PowerW = units.MilliwattsToWatts(uint64(mw))
		rec.Fields = rec.Fields.Add(model.FieldPower)
	}
	if mhz, ret := dev.GetClockInfo(nvml.CLOCK_GRAPHICS); ret == nvml.SUCCESS {
		rec.CoreClockMHz = mhz
		rec.Fields = rec.Fields.Add(model.FieldCoreClock)
	}
	if mhz, ret := dev.GetClockInfo(nvml.CLOCK_MEM); ret == nvml.SUCCESS {
		rec.MemoryClockMHz = mhz
		rec.Fields = rec.Fields.Add(model.FieldMemoryClock)
	}
	if fan, ret := dev.GetFanSpeed(); ret == nvml.SUCCESS {
		rec.FanSpeedPercent = float64(fan)
		rec.Fields = rec.Fields.Add(model.FieldFanSpeed)
	}

	if rec.UUID == "" {
		rec.UUID = fmt.Sprintf("NVIDIA-%d", i)
	}
	fillIdentity(rec, "Linux", 0, i)
	rec.Normalize()
	return rec, nil
}

// Close implements Strategy.
func (s *NVMLStrategy) Close() error { return s.lib.Release() }

// State exposes the library loader state for diagnostics.
func (s *NVMLStrategy) State() loader.State { return s.lib.State() }

func convertNVMLCString(b [16]uint8) string {
	var sb strings.Builder
	for _, c := range b {
		if c == 0 {
			break
		}
		sb.WriteByte(c)
	}
	return sb.String()
}
