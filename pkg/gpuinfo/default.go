// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gpuinfo

import (
	"sync"

	"github.com/jeranaias/gpuinfo/pkg/model"
)

var (
	defaultMu      sync.RWMutex
	defaultManager = New()
)

// Default returns the process-wide Manager used by the package functions.
func Default() *Manager {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultManager
}

// SetDefault replaces the process-wide Manager. The previous one is cleaned
// up.
func SetDefault(m *Manager) error {
	defaultMu.Lock()
	old := defaultManager
	defaultManager = m
	defaultMu.Unlock()
	return old.Cleanup()
}

// Initialize initializes the default Manager.
func Initialize() error { return Default().Initialize() }

// Cleanup cleans up the default Manager.
func Cleanup() error { return Default().Cleanup() }

// GetGpuCount returns the GPU count from the default Manager.
func GetGpuCount() (int, error) { return Default().Count() }

// GetGpuInfo returns the record at index from the default Manager.
func GetGpuInfo(index int) (*model.Record, error) { return Default().Info(index) }

// GetAllGpuInfo returns every record from the default Manager.
func GetAllGpuInfo() ([]*model.Record, error) { return Default().All() }
