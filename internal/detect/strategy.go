// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"errors"

	"github.com/jeranaias/gpuinfo/pkg/model"
)

// Strategy is one mechanism for discovering and reading devices of a single
// vendor. Records returned by Info carry the local index and already satisfy
// the model.Record invariants.
type Strategy interface {
	// Name identifies the strategy in logs and diagnostics.
	Name() string
	// Probe reports whether the strategy can run on this host. It may
	// acquire resources that Close later releases.
	Probe() error
	// Count returns the number of devices visible to the strategy.
	Count() (int, error)
	// Info builds a record for the device at local index i.
	Info(i int) (*model.Record, error)
	// Close releases anything Probe acquired.
	Close() error
}

// Backend answers count and info queries for one vendor.
type Backend interface {
	Vendor() model.Vendor
	Count() (int, error)
	Info(local int) (*model.Record, error)
	Close() error
}

// errIndexOutOfRange is returned by strategies asked for a device they no
// longer see. The chain reports it as a backend failure.
var errIndexOutOfRange = errors.New("device index out of range")
