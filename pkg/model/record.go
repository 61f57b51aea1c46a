// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// =============================================================================
// SOURCES
// =============================================================================

// Source names the detection strategy that produced a record.
type Source string

const (
	SourceNVML           Source = "nvml"
	SourceAMDSMI         Source = "amd-smi"
	SourceSysfs          Source = "sysfs"
	SourceRegistry       Source = "registry"
	SourceSystemProfiler Source = "system_profiler"
	// SourcePlaceholder marks a synthesized record. It carries identity only
	// and every telemetry field is zero.
	SourcePlaceholder Source = "placeholder"
)

// =============================================================================
// FIELD VALIDITY
// =============================================================================

// Field identifies one telemetry field of a Record.
type Field uint32

const (
	FieldName Field = 1 << iota
	FieldUUID
	FieldPCIBusID
	FieldMemoryTotal
	FieldMemoryUsed
	FieldMemoryFree
	FieldGPUUtilization
	FieldMemoryUtilization
	FieldTemperature
	FieldPower
	FieldCoreClock
	FieldMemoryClock
	FieldFanSpeed
)

var fieldNames = []struct {
	f    Field
	name string
}{
	{FieldName, "name"},
	{FieldUUID, "uuid"},
	{FieldPCIBusID, "pciBusId"},
	{FieldMemoryTotal, "memory.total"},
	{FieldMemoryUsed, "memory.used"},
	{FieldMemoryFree, "memory.free"},
	{FieldGPUUtilization, "gpuUtilization"},
	{FieldMemoryUtilization, "memoryUtilization"},
	{FieldTemperature, "temperatureC"},
	{FieldPower, "powerW"},
	{FieldCoreClock, "coreClockMHz"},
	{FieldMemoryClock, "memoryClockMHz"},
	{FieldFanSpeed, "fanSpeedPercent"},
}

// String returns the record field name.
func (f Field) String() string {
	for _, fn := range fieldNames {
		if fn.f == f {
			return fn.name
		}
	}
	return fmt.Sprintf("Field(%d)", uint32(f))
}

// FieldSet records which fields of a Record were read from the device
// rather than defaulted to zero or synthesized.
type FieldSet uint32

// Has reports whether f is in the set.
func (s FieldSet) Has(f Field) bool { return uint32(s)&uint32(f) != 0 }

// Add returns the set with f added.
func (s FieldSet) Add(f Field) FieldSet { return FieldSet(uint32(s) | uint32(f)) }

// Names returns the names of the fields in the set in record order.
func (s FieldSet) Names() []string {
	names := make([]string, 0, len(fieldNames))
	for _, fn := range fieldNames {
		if s.Has(fn.f) {
			names = append(names, fn.name)
		}
	}
	return names
}

// MarshalJSON encodes the set as a list of field names.
func (s FieldSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON decodes a list of field names. Unknown names are ignored.
func (s *FieldSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out FieldSet
	for _, name := range names {
		for _, fn := range fieldNames {
			if fn.name == name {
				out = out.Add(fn.f)
			}
		}
	}
	*s = out
	return nil
}

// =============================================================================
// RECORD
// =============================================================================

// Memory holds framebuffer sizes in MB.
type Memory struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// Record is a telemetry snapshot for one GPU. A new Record is built for
// every query; nothing holds on to it after it is returned.
//
// Zero means unknown for every telemetry field:
//   - GPUUtilization, MemoryUtilization, FanSpeedPercent: percent in [0,100]
//   - TemperatureC: degrees Celsius
//   - PowerW: watts
//   - CoreClockMHz, MemoryClockMHz: MHz
type Record struct {
	Index             int     `json:"index"`
	Vendor            Vendor  `json:"vendor"`
	Name              string  `json:"name"`
	UUID              string  `json:"uuid"`
	PCIBusID          string  `json:"pciBusId"`
	Memory            Memory  `json:"memory"`
	GPUUtilization    float64 `json:"gpuUtilization"`
	MemoryUtilization float64 `json:"memoryUtilization"`
	TemperatureC      float64 `json:"temperatureC"`
	PowerW            float64 `json:"powerW"`
	CoreClockMHz      uint32  `json:"coreClockMHz"`
	MemoryClockMHz    uint32  `json:"memoryClockMHz"`
	FanSpeedPercent   float64 `json:"fanSpeedPercent"`

	Source Source   `json:"source,omitempty"`
	Fields FieldSet `json:"fields,omitempty"`
}

// IsPlaceholder reports whether the record was synthesized rather than read.
func (r *Record) IsPlaceholder() bool {
	return r.Source == SourcePlaceholder
}

// Normalize enforces the record invariants in place:
//   - floats are finite and non-negative
//   - percentages are within [0,100]
//   - used never exceeds total
//   - free is total-used unless it was read and agrees with used within 1 MB
//   - used is total-free when only free was read
//   - memory utilization is derived from used/total when it was not read
func (r *Record) Normalize() {
	r.GPUUtilization = clampPercent(r.GPUUtilization)
	r.FanSpeedPercent = clampPercent(r.FanSpeedPercent)
	r.TemperatureC = nonNegative(r.TemperatureC)
	r.PowerW = nonNegative(r.PowerW)

	m := &r.Memory
	usedKnown := r.Fields.Has(FieldMemoryUsed)
	if r.Fields.Has(FieldMemoryFree) && !usedKnown {
		m.Free = min(m.Free, m.Total)
		m.Used = m.Total - m.Free
		usedKnown = true
	}
	if m.Used > m.Total {
		m.Used = m.Total
	}
	if !r.Fields.Has(FieldMemoryFree) || !withinOne(m.Used+m.Free, m.Total) {
		m.Free = m.Total - m.Used
	}

	if !r.Fields.Has(FieldMemoryUtilization) && m.Total > 0 && usedKnown {
		r.MemoryUtilization = float64(m.Used) / float64(m.Total) * 100
	}
	r.MemoryUtilization = clampPercent(r.MemoryUtilization)
}

func withinOne(a, b uint64) bool {
	if a > b {
		return a-b <= 1
	}
	return b-a <= 1
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func clampPercent(v float64) float64 {
	v = nonNegative(v)
	if v > 100 {
		return 100
	}
	return v
}
