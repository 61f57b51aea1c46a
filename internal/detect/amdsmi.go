// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jeranaias/gpuinfo/internal/loader"
	"github.com/jeranaias/gpuinfo/internal/units"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

// DefaultCommandTimeout bounds one external tool invocation.
const DefaultCommandTimeout = 10 * time.Second

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// =============================================================================
// AMD SMI STRATEGY
// =============================================================================

// AMDSMIStrategy reads AMD devices through the amd-smi JSON interface. The
// binary is located once per lifecycle.
type AMDSMIStrategy struct {
	run     Runner
	timeout time.Duration
	bin     *loader.Loader[string]
}

// NewAMDSMIStrategy returns the strategy. lookPath locates the binary; nil
// means exec.LookPath("amd-smi").
func NewAMDSMIStrategy(run Runner, lookPath func() (string, error), timeout time.Duration) *AMDSMIStrategy {
	if run == nil {
		run = ExecRunner
	}
	if lookPath == nil {
		lookPath = func() (string, error) { return exec.LookPath("amd-smi") }
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &AMDSMIStrategy{run: run, timeout: timeout, bin: loader.New(lookPath, nil)}
}

// Name implements Strategy.
func (s *AMDSMIStrategy) Name() string { return string(model.SourceAMDSMI) }

// Probe implements Strategy.
func (s *AMDSMIStrategy) Probe() error {
	_, err := s.bin.Get()
	return err
}

// Count implements Strategy.
func (s *AMDSMIStrategy) Count() (int, error) {
	list, err := s.query("list")
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// Info implements Strategy.
func (s *AMDSMIStrategy) Info(i int) (*model.Record, error) {
	list, err := s.query("list")
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(list) {
		return nil, fmt.Errorf("%w: %d of %d", errIndexOutOfRange, i, len(list))
	}
	static, err := s.query("static")
	if err != nil {
		return nil, err
	}
	metric, err := s.query("metric")
	if err != nil {
		return nil, err
	}

	gpu := smiIndex(list[i], i)
	rec := buildAMDSMIRecord(list[i], smiEntry(static, gpu, i), smiEntry(metric, gpu, i))
	rec.Index = i
	fillIdentity(rec, "Linux", smiDeviceID(smiEntry(static, gpu, i)), i)
	rec.Normalize()
	return rec, nil
}

// Close implements Strategy.
func (s *AMDSMIStrategy) Close() error { return s.bin.Release() }

func (s *AMDSMIStrategy) query(sub string) ([]map[string]any, error) {
	bin, err := s.bin.Get()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	out, err := s.run(ctx, bin, sub, "--json")
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("amd-smi %s: %w", sub, ctx.Err())
		}
		return nil, fmt.Errorf("amd-smi %s: %w", sub, err)
	}
	return parseSMIOutput(out)
}

// parseSMIOutput accepts both the array form of newer releases and the
// {"gpu_data": [...]} form of older ones.
func parseSMIOutput(out []byte) ([]map[string]any, error) {
	var arr []map[string]any
	if err := json.Unmarshal(out, &arr); err == nil {
		return arr, nil
	}
	var wrapped struct {
		GPUData []map[string]any `json:"gpu_data"`
	}
	if err := json.Unmarshal(out, &wrapped); err != nil {
		return nil, fmt.Errorf("decode amd-smi output: %w", err)
	}
	return wrapped.GPUData, nil
}

func buildAMDSMIRecord(list, static, metric map[string]any) *model.Record {
	rec := &model.Record{Vendor: model.VendorAMD, Source: model.SourceAMDSMI}

	if v, ok := smiString(static, "asic", "market_name"); ok {
		rec.Name = v
		rec.Fields = rec.Fields.Add(model.FieldName)
	}
	if v, ok := smiString(list, "uuid"); ok {
		rec.UUID = v
		rec.Fields = rec.Fields.Add(model.FieldUUID)
	}
	bdf, ok := smiString(list, "bdf")
	if !ok {
		bdf, ok = smiString(static, "bus", "bdf")
	}
	if ok {
		rec.PCIBusID = bdf
		rec.Fields = rec.Fields.Add(model.FieldPCIBusID)
	}

	if v, ok := smiMeasure(metric, "mem_usage", "total_vram"); ok {
		rec.Memory.Total = v.mb()
		rec.Fields = rec.Fields.Add(model.FieldMemoryTotal)
	} else if v, ok := smiMeasure(static, "vram", "size"); ok {
		rec.Memory.Total = v.mb()
		rec.Fields = rec.Fields.Add(model.FieldMemoryTotal)
	}
	if v, ok := smiMeasure(metric, "mem_usage", "used_vram"); ok {
		rec.Memory.Used = v.mb()
		rec.Fields = rec.Fields.Add(model.FieldMemoryUsed)
	}
	if v, ok := smiMeasure(metric, "mem_usage", "free_vram"); ok {
		rec.Memory.Free = v.mb()
		rec.Fields = rec.Fields.Add(model.FieldMemoryFree)
	}
	if v, ok := smiMeasure(metric, "usage", "gfx_activity"); ok {
		rec.GPUUtilization = units.ClampPercent(v.value)
		rec.Fields = rec.Fields.Add(model.FieldGPUUtilization)
	}
	if v, ok := firstMeasure(metric, []string{"temperature", "edge"}, []string{"temperature", "hotspot"}); ok {
		rec.TemperatureC = v.value
		rec.Fields = rec.Fields.Add(model.FieldTemperature)
	}
	if v, ok := firstMeasure(metric, []string{"power", "socket_power"}, []string{"power", "average_socket_power"}); ok {
		rec.PowerW = v.watts()
		rec.Fields = rec.Fields.Add(model.FieldPower)
	}
	if v, ok := smiMeasure(metric, "clock", "gfx_0", "clk"); ok {
		rec.CoreClockMHz = v.mhz()
		rec.Fields = rec.Fields.Add(model.FieldCoreClock)
	}
	if v, ok := smiMeasure(metric, "clock", "mem_0", "clk"); ok {
		rec.MemoryClockMHz = v.mhz()
		rec.Fields = rec.Fields.Add(model.FieldMemoryClock)
	}
	if v, ok := smiMeasure(metric, "fan", "usage"); ok {
		rec.FanSpeedPercent = units.ClampPercent(v.value)
		rec.Fields = rec.Fields.Add(model.FieldFanSpeed)
	}
	return rec
}

// =============================================================================
// AMD SMI JSON HELPERS
// =============================================================================

// measure is a {"value": ..., "unit": ...} pair. Negative and NaN values
// convert to zero.
type measure struct {
	value float64
	unit  string
}

func (m measure) invalid() bool { return !(m.value > 0) }

func (m measure) mb() uint64 {
	if m.invalid() {
		return 0
	}
	switch strings.ToUpper(m.unit) {
	case "B":
		return units.BytesToMB(uint64(m.value))
	case "KB":
		return units.KBToMB(uint64(m.value))
	case "GB":
		return units.GBToMB(m.value)
	default:
		return uint64(m.value)
	}
}

func (m measure) watts() float64 {
	if m.invalid() {
		return 0
	}
	switch m.unit {
	case "mW":
		return units.MilliwattsToWatts(uint64(m.value))
	case "uW":
		return units.MicrowattsToWatts(uint64(m.value))
	default:
		return m.value
	}
}

func (m measure) mhz() uint32 {
	if m.invalid() {
		return 0
	}
	switch strings.ToUpper(m.unit) {
	case "GHZ":
		return uint32(m.value * 1000)
	case "HZ":
		return units.HzToMHz(uint64(m.value))
	default:
		return uint32(m.value)
	}
}

func smiLookup(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func smiString(m map[string]any, path ...string) (string, bool) {
	v, ok := smiLookup(m, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	s = strings.TrimSpace(s)
	if !ok || s == "" || strings.EqualFold(s, "N/A") {
		return "", false
	}
	return s, true
}

// smiMeasure reads a measure object or a bare number. "N/A" is unknown.
func smiMeasure(m map[string]any, path ...string) (measure, bool) {
	v, ok := smiLookup(m, path...)
	if !ok {
		return measure{}, false
	}
	switch t := v.(type) {
	case float64:
		return measure{value: t}, true
	case map[string]any:
		val, ok := t["value"].(float64)
		if !ok {
			return measure{}, false
		}
		unit, _ := t["unit"].(string)
		return measure{value: val, unit: unit}, true
	}
	return measure{}, false
}

func firstMeasure(m map[string]any, paths ...[]string) (measure, bool) {
	for _, p := range paths {
		if v, ok := smiMeasure(m, p...); ok {
			return v, true
		}
	}
	return measure{}, false
}

func smiIndex(m map[string]any, fallback int) int {
	if v, ok := m["gpu"].(float64); ok {
		return int(v)
	}
	return fallback
}

// smiEntry finds the entry for gpu, falling back to position pos.
func smiEntry(entries []map[string]any, gpu, pos int) map[string]any {
	for _, e := range entries {
		if v, ok := e["gpu"].(float64); ok && int(v) == gpu {
			return e
		}
	}
	if pos >= 0 && pos < len(entries) {
		return entries[pos]
	}
	return nil
}

func smiDeviceID(static map[string]any) uint16 {
	s, ok := smiString(static, "asic", "device_id")
	if !ok {
		return 0
	}
	var id uint16
	if _, err := fmt.Sscanf(strings.ToLower(s), "0x%x", &id); err != nil {
		return 0
	}
	return id
}
