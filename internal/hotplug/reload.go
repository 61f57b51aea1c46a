// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package hotplug

import "log/slog"

// Reinitializer is satisfied by *gpuinfo.Manager.
type Reinitializer interface {
	Reinitialize() error
}

// Reload returns an OnChange callback that runs an explicit cleanup and
// initialize cycle on m. after, when set, receives the cycle's result.
func Reload(m Reinitializer, logger *slog.Logger, after func(error)) func() {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func() {
		err := m.Reinitialize()
		if err != nil {
			logger.Warn("HOTPLUG_REINIT_FAILED", "error", err)
		} else {
			logger.Info("HOTPLUG_REINIT")
		}
		if after != nil {
			after(err)
		}
	}
}
