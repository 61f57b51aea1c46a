// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build darwin

package detect

import (
	"github.com/jeranaias/gpuinfo/internal/platform/sysprof"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

// platformStrategies returns the macOS chain for a vendor. NVIDIA has no
// supported driver on current macOS releases and gets no strategies.
func platformStrategies(v model.Vendor, opts Options) []Strategy {
	if v == model.VendorNVIDIA {
		return nil
	}
	return []Strategy{NewAdapterStrategy(v, sysprof.New(sysprof.Runner(opts.Runner)))}
}
