// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detect implements the per-vendor GPU backends.
//
// Each vendor backend is a Chain of detection strategies ordered from highest
// to lowest fidelity. The first strategy that is usable and reports at least
// one device is selected; the choice is remembered until Close.
//
// # Strategies
//
//   - nvml: NVIDIA management library, loaded lazily (Linux)
//   - amd-smi: AMD SMI command line JSON output (Linux)
//   - sysfs: DRM and hwmon counters under /sys/class/drm (Linux)
//   - registry: display adapter class keys (Windows)
//   - system_profiler: SPDisplaysDataType report (macOS)
//   - placeholder: identity-only record when a driver is present but nothing
//     else can see the device
//
// # Usage
//
//	backends := detect.NewBackends(detect.Options{Logger: logger})
//	for _, b := range backends {
//		n, err := b.Count()
//		if err != nil {
//			continue
//		}
//		fmt.Printf("%s: %d\n", b.Vendor(), n)
//	}
package detect
