// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/gpuinfo/internal/platform"
	"github.com/jeranaias/gpuinfo/internal/units"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

// =============================================================================
// ADAPTER STRATEGY
// =============================================================================

// AdapterStrategy reads one vendor's devices through a platform.Adapter.
// Enumeration is repeated on every call so hot-plugged devices show up.
type AdapterStrategy struct {
	vendor  model.Vendor
	source  model.Source
	osLabel string
	adapter platform.Adapter
}

// NewAdapterStrategy returns a strategy for vendor backed by adapter. The
// record source is derived from the adapter name.
func NewAdapterStrategy(vendor model.Vendor, adapter platform.Adapter) *AdapterStrategy {
	source := model.Source(adapter.Name())
	return &AdapterStrategy{
		vendor:  vendor,
		source:  source,
		osLabel: osLabelFor(source),
		adapter: adapter,
	}
}

// Name implements Strategy.
func (s *AdapterStrategy) Name() string { return s.adapter.Name() }

// Probe implements Strategy.
func (s *AdapterStrategy) Probe() error {
	_, err := s.adapter.EnumerateDevices()
	return err
}

// Count implements Strategy.
func (s *AdapterStrategy) Count() (int, error) {
	handles, err := s.devices()
	if err != nil {
		return 0, err
	}
	return len(handles), nil
}

// Info implements Strategy.
func (s *AdapterStrategy) Info(i int) (*model.Record, error) {
	handles, err := s.devices()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(handles) {
		return nil, fmt.Errorf("%w: %d of %d", errIndexOutOfRange, i, len(handles))
	}
	return s.build(handles[i], i), nil
}

// Close implements Strategy.
func (s *AdapterStrategy) Close() error { return nil }

func (s *AdapterStrategy) devices() ([]platform.Handle, error) {
	handles, err := s.adapter.EnumerateDevices()
	if err != nil {
		return nil, err
	}
	return platform.FilterVendor(handles, s.vendor.PCIVendorID()), nil
}

// build reads every field the adapter offers. Unreadable fields stay zero.
func (s *AdapterStrategy) build(h platform.Handle, i int) *model.Record {
	rec := &model.Record{Index: i, Vendor: s.vendor, Source: s.source}

	text := func(f platform.FieldID) (string, bool) {
		v, ok := s.adapter.ReadField(h, f)
		if !ok || strings.TrimSpace(v.String()) == "" {
			return "", false
		}
		return strings.TrimSpace(v.String()), true
	}
	num := func(f platform.FieldID) (uint64, bool) {
		v, ok := s.adapter.ReadField(h, f)
		if !ok {
			return 0, false
		}
		return v.Uint64()
	}

	if name, ok := text(platform.FieldName); ok {
		rec.Name = name
		rec.Fields = rec.Fields.Add(model.FieldName)
	}
	if bus, ok := text(platform.FieldPCIBusID); ok {
		rec.PCIBusID = bus
		rec.Fields = rec.Fields.Add(model.FieldPCIBusID)
	}
	if b, ok := num(platform.FieldMemoryTotalBytes); ok {
		rec.Memory.Total = units.BytesToMB(b)
		rec.Fields = rec.Fields.Add(model.FieldMemoryTotal)
	}
	if b, ok := num(platform.FieldMemoryUsedBytes); ok {
		rec.Memory.Used = units.BytesToMB(b)
		rec.Fields = rec.Fields.Add(model.FieldMemoryUsed)
	}
	if p, ok := num(platform.FieldGPUBusyPercent); ok {
		rec.GPUUtilization = units.ClampPercent(float64(p))
		rec.Fields = rec.Fields.Add(model.FieldGPUUtilization)
	}
	if mc, ok := num(platform.FieldTemperatureMilliC); ok {
		rec.TemperatureC = units.MilliCelsiusToCelsius(int64(mc))
		rec.Fields = rec.Fields.Add(model.FieldTemperature)
	}
	if uw, ok := num(platform.FieldPowerMicroW); ok {
		rec.PowerW = units.MicrowattsToWatts(uw)
		rec.Fields = rec.Fields.Add(model.FieldPower)
	}
	if mhz, ok := num(platform.FieldCoreClockMHz); ok {
		rec.CoreClockMHz = uint32(mhz)
		rec.Fields = rec.Fields.Add(model.FieldCoreClock)
	}
	if mhz, ok := num(platform.FieldMemoryClockMHz); ok {
		rec.MemoryClockMHz = uint32(mhz)
		rec.Fields = rec.Fields.Add(model.FieldMemoryClock)
	}
	if pwm, ok := num(platform.FieldFanPWM); ok {
		rec.FanSpeedPercent = units.PWMToPercent(pwm)
		rec.Fields = rec.Fields.Add(model.FieldFanSpeed)
	} else if rpm, ok := num(platform.FieldFanRPM); ok {
		if maxRPM, ok := num(platform.FieldFanMaxRPM); ok && maxRPM > 0 {
			rec.FanSpeedPercent = units.RPMToPercent(rpm, maxRPM)
			rec.Fields = rec.Fields.Add(model.FieldFanSpeed)
		}
	}

	deviceID, _ := num(platform.FieldDeviceID)
	fillIdentity(rec, s.osLabel, uint16(deviceID), i)
	rec.Normalize()
	return rec
}

// =============================================================================
// SYNTHESIZED IDENTITY
// =============================================================================

// identityNamespace seeds name-based UUIDs for devices that expose no UUID.
var identityNamespace = uuid.MustParse("5c3a1f9e-7b2d-4e61-9a0c-2f8d6b4e1a37")

// fillIdentity supplies the fallback name, PCI bus id and UUID for fields
// the strategy could not read. Synthesized UUIDs carry the vendor prefix so
// they never look like an NVML "GPU-" UUID.
func fillIdentity(rec *model.Record, osLabel string, deviceID uint16, i int) {
	if rec.Name == "" {
		rec.Name = defaultName(rec.Vendor, i)
	}
	if rec.PCIBusID == "" {
		rec.PCIBusID = fmt.Sprintf("PCI:%d", i)
	}
	if rec.UUID != "" {
		return
	}
	switch {
	case rec.Vendor == model.VendorAMD:
		rec.UUID = fmt.Sprintf("AMD-%s-0x%04X-%d", osLabel, deviceID, i)
	case rec.Fields.Has(model.FieldPCIBusID):
		key := fmt.Sprintf("%s/%04x/%s", rec.Vendor, deviceID, rec.PCIBusID)
		rec.UUID = strings.ToUpper(vendorLabel(rec.Vendor)) + "-" + uuid.NewSHA1(identityNamespace, []byte(key)).String()
	default:
		rec.UUID = fmt.Sprintf("%s-%d", rec.Vendor, i)
	}
}

func defaultName(v model.Vendor, i int) string {
	switch v {
	case model.VendorNVIDIA:
		return "NVIDIA GPU"
	case model.VendorAMD:
		return fmt.Sprintf("AMD GPU %d", i)
	case model.VendorIntel:
		return fmt.Sprintf("Intel GPU %d", i)
	default:
		return fmt.Sprintf("GPU %d", i)
	}
}

func osLabelFor(source model.Source) string {
	switch source {
	case model.SourceRegistry:
		return "Windows"
	case model.SourceSystemProfiler:
		return "macOS"
	default:
		return "Linux"
	}
}
