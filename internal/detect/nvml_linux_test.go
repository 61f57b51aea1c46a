// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build linux

package detect

import (
	"testing"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/NVIDIA/go-nvml/pkg/nvml/mock"

	"github.com/jeranaias/gpuinfo/internal/loader"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

func busID(s string) [16]uint8 {
	var b [16]uint8
	copy(b[:], s)
	return b
}

func newMockDevice() *mock.Device {
	return &mock.Device{
		GetNameFunc: func() (string, nvml.Return) { return "NVIDIA GeForce RTX 4090", nvml.SUCCESS },
		GetUUIDFunc: func() (string, nvml.Return) {
			return "GPU-8f3c2d1e-5b6a-4c7d-9e8f-0a1b2c3d4e5f", nvml.SUCCESS
		},
		GetPciInfoFunc: func() (nvml.PciInfo, nvml.Return) {
			return nvml.PciInfo{BusIdLegacy: busID("0000:01:00.0")}, nvml.SUCCESS
		},
		GetMemoryInfoFunc: func() (nvml.Memory, nvml.Return) {
			return nvml.Memory{Total: 25757220864, Used: 2147483648, Free: 23609737216}, nvml.SUCCESS
		},
		GetUtilizationRatesFunc: func() (nvml.Utilization, nvml.Return) {
			return nvml.Utilization{Gpu: 63, Memory: 21}, nvml.SUCCESS
		},
		GetTemperatureFunc: func(nvml.TemperatureSensors) (uint32, nvml.Return) { return 61, nvml.SUCCESS },
		GetPowerUsageFunc:  func() (uint32, nvml.Return) { return 312450, nvml.SUCCESS },
		GetClockInfoFunc: func(c nvml.ClockType) (uint32, nvml.Return) {
			if c == nvml.CLOCK_MEM {
				return 10501, nvml.SUCCESS
			}
			return 2520, nvml.SUCCESS
		},
		GetFanSpeedFunc: func() (uint32, nvml.Return) { return 0, nvml.ERROR_NOT_SUPPORTED },
	}
}

func newMockNVML(devices ...nvml.Device) *mock.Interface {
	return &mock.Interface{
		InitFunc:     func() nvml.Return { return nvml.SUCCESS },
		ShutdownFunc: func() nvml.Return { return nvml.SUCCESS },
		DeviceGetCountFunc: func() (int, nvml.Return) {
			return len(devices), nvml.SUCCESS
		},
		DeviceGetHandleByIndexFunc: func(i int) (nvml.Device, nvml.Return) {
			if i < 0 || i >= len(devices) {
				return nil, nvml.ERROR_INVALID_ARGUMENT
			}
			return devices[i], nvml.SUCCESS
		},
		ErrorStringFunc: func(r nvml.Return) string { return "mock error" },
	}
}

func TestNVMLStrategy_Info(t *testing.T) {
	lib := newMockNVML(newMockDevice())
	s := newNVMLStrategy(func() nvml.Interface { return lib })

	if err := s.Probe(); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if s.State() != loader.Ready {
		t.Errorf("State() = %v, want ready", s.State())
	}
	n, err := s.Count()
	if err != nil || n != 1 {
		t.Fatalf("Count() = %d, %v; want 1", n, err)
	}

	rec, err := s.Info(0)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if rec.Name != "NVIDIA GeForce RTX 4090" || rec.PCIBusID != "0000:01:00.0" {
		t.Errorf("identity = %q %q", rec.Name, rec.PCIBusID)
	}
	if rec.Memory != (model.Memory{Total: 24564, Used: 2048, Free: 22516}) {
		t.Errorf("Memory = %+v", rec.Memory)
	}
	if rec.GPUUtilization != 63 || rec.MemoryUtilization != 21 {
		t.Errorf("utilization = %v/%v", rec.GPUUtilization, rec.MemoryUtilization)
	}
	if rec.TemperatureC != 61 || rec.PowerW != 312.45 {
		t.Errorf("temp/power = %v/%v", rec.TemperatureC, rec.PowerW)
	}
	if rec.CoreClockMHz != 2520 || rec.MemoryClockMHz != 10501 {
		t.Errorf("clocks = %d/%d", rec.CoreClockMHz, rec.MemoryClockMHz)
	}
	if rec.FanSpeedPercent != 0 || rec.Fields.Has(model.FieldFanSpeed) {
		t.Errorf("unsupported fan query must leave the field unknown")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(lib.ShutdownCalls()) != 1 {
		t.Errorf("Shutdown called %d times, want 1", len(lib.ShutdownCalls()))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if len(lib.ShutdownCalls()) != 1 {
		t.Errorf("Shutdown must run exactly once per load")
	}
}

func TestNVMLStrategy_Fallbacks(t *testing.T) {
	dev := &mock.Device{
		GetNameFunc:             func() (string, nvml.Return) { return "", nvml.ERROR_UNKNOWN },
		GetUUIDFunc:             func() (string, nvml.Return) { return "", nvml.ERROR_UNKNOWN },
		GetPciInfoFunc:          func() (nvml.PciInfo, nvml.Return) { return nvml.PciInfo{}, nvml.ERROR_UNKNOWN },
		GetMemoryInfoFunc:       func() (nvml.Memory, nvml.Return) { return nvml.Memory{}, nvml.ERROR_UNKNOWN },
		GetUtilizationRatesFunc: func() (nvml.Utilization, nvml.Return) { return nvml.Utilization{}, nvml.ERROR_UNKNOWN },
		GetTemperatureFunc:      func(nvml.TemperatureSensors) (uint32, nvml.Return) { return 0, nvml.ERROR_UNKNOWN },
		GetPowerUsageFunc:       func() (uint32, nvml.Return) { return 0, nvml.ERROR_UNKNOWN },
		GetClockInfoFunc:        func(nvml.ClockType) (uint32, nvml.Return) { return 0, nvml.ERROR_UNKNOWN },
		GetFanSpeedFunc:         func() (uint32, nvml.Return) { return 0, nvml.ERROR_UNKNOWN },
	}
	s := newNVMLStrategy(func() nvml.Interface { return newMockNVML(dev) })

	rec, err := s.Info(0)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if rec.Name != "NVIDIA GPU" || rec.UUID != "NVIDIA-0" || rec.PCIBusID != "PCI:0" {
		t.Errorf("fallback identity = %q %q %q", rec.Name, rec.UUID, rec.PCIBusID)
	}
	if rec.Fields != 0 {
		t.Errorf("no field was read, got %v", rec.Fields.Names())
	}

	if _, err := s.Info(3); err == nil {
		t.Errorf("Info(3) should fail on a missing handle")
	}
}

func TestNVMLStrategy_LoadFailureIsMemoized(t *testing.T) {
	opens := 0
	s := newNVMLStrategy(func() nvml.Interface {
		opens++
		return &mock.Interface{
			InitFunc:        func() nvml.Return { return nvml.ERROR_LIBRARY_NOT_FOUND },
			ErrorStringFunc: func(nvml.Return) string { return "NVML Shared Library Not Found" },
		}
	})

	for i := 0; i < 3; i++ {
		if err := s.Probe(); err == nil {
			t.Fatalf("Probe() should fail")
		}
	}
	if opens != 1 {
		t.Errorf("library opened %d times, want 1", opens)
	}
	if s.State() != loader.Unavailable {
		t.Errorf("State() = %v, want unavailable", s.State())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.State() != loader.Unattempted {
		t.Errorf("Close should return to unattempted")
	}
}

func TestNVMLStrategy_InChain(t *testing.T) {
	s := newNVMLStrategy(func() nvml.Interface {
		return newMockNVML(newMockDevice(), newMockDevice())
	})
	c := NewChain(model.VendorNVIDIA, nil, s, &fakeStrategy{name: "sysfs", count: 2})

	n, err := c.Count()
	if err != nil || n != 2 {
		t.Fatalf("Count() = %d, %v", n, err)
	}
	rec, err := c.Info(1)
	if err != nil {
		t.Fatalf("Info(1) error = %v", err)
	}
	if rec.Source != model.SourceNVML || rec.Vendor != model.VendorNVIDIA {
		t.Errorf("record source/vendor = %q/%v", rec.Source, rec.Vendor)
	}
}
