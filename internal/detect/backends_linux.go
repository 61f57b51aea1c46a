// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build linux

package detect

import (
	"path/filepath"

	"github.com/jeranaias/gpuinfo/internal/platform/sysfs"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

// platformStrategies returns the Linux chain for a vendor:
//
//	NVIDIA: nvml, sysfs, placeholder
//	AMD:    amd-smi, sysfs, placeholder
//	INTEL:  sysfs, placeholder
func platformStrategies(v model.Vendor, opts Options) []Strategy {
	root := opts.SysfsRoot
	if root == "" {
		root = sysfs.DefaultRoot
	}
	drm := NewAdapterStrategy(v, sysfs.New(root))

	var out []Strategy
	switch v {
	case model.VendorNVIDIA:
		out = append(out, NewNVMLStrategy(opts.NVMLLibrary), drm)
	case model.VendorAMD:
		out = append(out, NewAMDSMIStrategy(opts.Runner, nil, opts.CommandTimeout), drm)
	case model.VendorIntel:
		out = append(out, drm)
	}
	if opts.Placeholder {
		out = append(out, NewPlaceholder(v, "Linux", linuxDriverHint(root, v)))
	}
	return out
}

// linuxDriverHint checks for the kernel module of the vendor driver.
func linuxDriverHint(root string, v model.Vendor) DriverHint {
	mod := func(name string) string { return filepath.Join(root, "module", name) }
	switch v {
	case model.VendorNVIDIA:
		return PathHint(mod("nvidia"), "/proc/driver/nvidia/version")
	case model.VendorAMD:
		return AnyHint(PathHint(mod("amdgpu"), "/opt/rocm"), EnvHint("ROCM_PATH"))
	case model.VendorIntel:
		return PathHint(mod("i915"), mod("xe"))
	}
	return nil
}
