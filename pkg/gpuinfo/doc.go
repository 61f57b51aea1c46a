// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gpuinfo exposes every GPU on the machine through one flat,
// zero-based index space, regardless of vendor or discovery mechanism.
//
// Indices are assigned NVIDIA first, then AMD, then Intel. The mapping is
// recomputed from the vendor backends on every call, so it follows hot-plug
// changes but is only stable within a single Count/Info sequence.
//
// # Usage
//
//	if err := gpuinfo.Initialize(); err != nil {
//		log.Fatal(err)
//	}
//	defer gpuinfo.Cleanup()
//
//	n, _ := gpuinfo.GetGpuCount()
//	for i := 0; i < n; i++ {
//		rec, err := gpuinfo.GetGpuInfo(i)
//		if err != nil {
//			continue
//		}
//		fmt.Printf("%d: %s %s %d MB\n", rec.Index, rec.Vendor, rec.Name, rec.Memory.Total)
//	}
//
// A count of zero is not an error. Use Manager.Census to tell "no GPU
// present" (NoDevice) apart from backends that could not run.
//
// All operations are synchronous and safe for concurrent use. None of them
// can be cancelled; callers that need a deadline should run them in a
// goroutine of their own.
package gpuinfo
