// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package detect

import (
	"os"
	"path/filepath"

	"github.com/jeranaias/gpuinfo/internal/platform/registry"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

// platformStrategies returns the Windows chain for a vendor: the display
// class registry, then the placeholder.
func platformStrategies(v model.Vendor, opts Options) []Strategy {
	out := []Strategy{NewAdapterStrategy(v, registry.New())}
	if opts.Placeholder {
		out = append(out, NewPlaceholder(v, "Windows", windowsDriverHint(v)))
	}
	return out
}

// windowsDriverHint checks for the vendor's user-mode driver DLL.
func windowsDriverHint(v model.Vendor) DriverHint {
	sys := filepath.Join(os.Getenv("SystemRoot"), "System32")
	switch v {
	case model.VendorNVIDIA:
		return PathHint(filepath.Join(sys, "nvml.dll"), filepath.Join(sys, "nvapi64.dll"))
	case model.VendorAMD:
		return AnyHint(PathHint(filepath.Join(sys, "amdadlx64.dll"), filepath.Join(sys, "atiadlxx.dll")), EnvHint("HIP_PATH"))
	case model.VendorIntel:
		return PathHint(filepath.Join(sys, "igdumdim64.dll"), filepath.Join(sys, "igd10iumd64.dll"))
	}
	return nil
}
