// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"log/slog"
	"time"

	"github.com/jeranaias/gpuinfo/pkg/model"
)

// Options configures the backends built by NewBackends.
type Options struct {
	// SysfsRoot is the sysfs mount point, a directory named sys. Empty means
	// /sys.
	SysfsRoot string
	// NVMLLibrary is the NVML shared library to open. Empty means the
	// platform default.
	NVMLLibrary string
	// Placeholder enables the placeholder strategy as a last resort.
	Placeholder bool
	// Disabled vendors get a backend with no strategies, so they always
	// count zero.
	Disabled []model.Vendor
	// Order overrides the strategy order per vendor by strategy name.
	// Unknown names are ignored and strategies not listed are dropped.
	Order map[model.Vendor][]string
	// CommandTimeout bounds each external tool run.
	CommandTimeout time.Duration
	// Runner executes external tools. Nil means ExecRunner.
	Runner Runner
	// Logger receives strategy selection events.
	Logger *slog.Logger
}

// NewBackends returns one backend per vendor in model.Vendors order.
func NewBackends(opts Options) []Backend {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}

	backends := make([]Backend, 0, len(model.Vendors))
	for _, v := range model.Vendors {
		var strategies []Strategy
		if !isDisabled(opts.Disabled, v) {
			strategies = applyOrder(platformStrategies(v, opts), opts.Order[v])
		}
		backends = append(backends, NewChain(v, opts.Logger.With("component", "detect"), strategies...))
	}
	return backends
}

func isDisabled(disabled []model.Vendor, v model.Vendor) bool {
	for _, d := range disabled {
		if d == v {
			return true
		}
	}
	return false
}

func applyOrder(strategies []Strategy, order []string) []Strategy {
	if len(order) == 0 {
		return strategies
	}
	byName := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		byName[s.Name()] = s
	}
	out := make([]Strategy, 0, len(order))
	for _, name := range order {
		if s, ok := byName[name]; ok {
			out = append(out, s)
			delete(byName, name)
		}
	}
	return out
}
