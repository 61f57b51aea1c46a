// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sysprof enumerates display adapters from the macOS
// `system_profiler SPDisplaysDataType -json` report.
package sysprof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/gpuinfo/internal/platform"
	"github.com/jeranaias/gpuinfo/internal/units"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

// DefaultTimeout bounds one system_profiler run.
const DefaultTimeout = 10 * time.Second

// ErrUnavailable is returned when system_profiler cannot be run.
var ErrUnavailable = errors.New("sysprof: system_profiler unavailable")

var (
	hexIDRegex = regexp.MustCompile(`0x([0-9a-fA-F]{4})`)
	sizeRegex  = regexp.MustCompile(`(?i)^\s*([0-9.]+)\s*(GB|MB)\s*$`)
)

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// report mirrors the parts of the SPDisplaysDataType JSON we use.
type report struct {
	Displays []display `json:"SPDisplaysDataType"`
}

type display struct {
	Name       string `json:"_name"`
	Model      string `json:"sppci_model"`
	Vendor     string `json:"spdisplays_vendor"`
	DeviceID   string `json:"spdisplays_device-id"`
	VRAM       string `json:"spdisplays_vram"`
	VRAMShared string `json:"spdisplays_vram_shared"`
	Bus        string `json:"sppci_bus"`
}

// Device is one adapter from the report.
type Device struct {
	index    int
	d        display
	vendorID uint16
}

// ID returns the position of the adapter in the report.
func (d *Device) ID() string { return strconv.Itoa(d.index) }

// VendorID returns the PCI vendor id inferred from the report.
func (d *Device) VendorID() uint16 { return d.vendorID }

// Adapter implements platform.Adapter.
type Adapter struct {
	run     Runner
	timeout time.Duration
}

// New returns an Adapter. A nil runner means ExecRunner.
func New(run Runner) *Adapter {
	if run == nil {
		run = ExecRunner
	}
	return &Adapter{run: run, timeout: DefaultTimeout}
}

// Name implements platform.Adapter.
func (a *Adapter) Name() string { return "system_profiler" }

// EnumerateDevices runs system_profiler and returns adapters from known
// PCI vendors.
func (a *Adapter) EnumerateDevices() ([]platform.Handle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	out, err := a.run(ctx, "system_profiler", "SPDisplaysDataType", "-json")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return Parse(out)
}

// Parse decodes a report into device handles.
func Parse(data []byte) ([]platform.Handle, error) {
	var r report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("sysprof: decode report: %w", err)
	}
	var out []platform.Handle
	for i, d := range r.Displays {
		ven := vendorID(d.Vendor)
		if ven == 0 {
			continue
		}
		out = append(out, &Device{index: i, d: d, vendorID: ven})
	}
	return out, nil
}

// ReadField implements platform.Adapter.
func (a *Adapter) ReadField(h platform.Handle, f platform.FieldID) (platform.Value, bool) {
	dev, ok := h.(*Device)
	if !ok {
		return platform.Value{}, false
	}
	switch f {
	case platform.FieldName:
		if name := firstNonEmpty(dev.d.Model, dev.d.Name); name != "" {
			return platform.Text(name), true
		}
	case platform.FieldDeviceID:
		if m := hexIDRegex.FindStringSubmatch(dev.d.DeviceID); m != nil {
			n, _ := strconv.ParseUint(m[1], 16, 16)
			return platform.Uint(n), true
		}
	case platform.FieldMemoryTotalBytes:
		if mb := ParseSizeMB(firstNonEmpty(dev.d.VRAM, dev.d.VRAMShared)); mb > 0 {
			return platform.Uint(mb * 1024 * 1024), true
		}
	}
	return platform.Value{}, false
}

// vendorID infers the PCI vendor from values such as "sppci_vendor_amd",
// "AMD (0x1002)" or "Intel".
func vendorID(s string) uint16 {
	if m := hexIDRegex.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseUint(m[1], 16, 16)
		if err == nil {
			return uint16(n)
		}
	}
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "nvidia"):
		return model.PCIVendorNVIDIA
	case strings.Contains(lower, "amd"):
		return model.PCIVendorAMD
	case strings.Contains(lower, "intel"):
		return model.PCIVendorIntel
	}
	return 0
}

// ParseSizeMB converts "8 GB" or "1536 MB" to MB.
func ParseSizeMB(s string) uint64 {
	m := sizeRegex.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	if strings.EqualFold(m[2], "GB") {
		return units.GBToMB(v)
	}
	return uint64(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
