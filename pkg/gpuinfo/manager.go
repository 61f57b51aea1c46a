// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gpuinfo

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeranaias/gpuinfo/internal/detect"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

// =============================================================================
// MANAGER
// =============================================================================

// BackendFactory builds the vendor backends for one lifecycle.
type BackendFactory func() []detect.Backend

// Manager owns the vendor backends and the initialized state. The zero value
// is not usable; call New.
type Manager struct {
	factory BackendFactory
	logger  *slog.Logger

	mu          sync.RWMutex
	initialized bool
	backends    []detect.Backend
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithDetectOptions builds the platform backends with opts.
func WithDetectOptions(opts detect.Options) Option {
	return func(m *Manager) {
		m.factory = func() []detect.Backend {
			if opts.Logger == nil {
				opts.Logger = m.logger
			}
			return detect.NewBackends(opts)
		}
	}
}

// WithBackends replaces backend construction entirely.
func WithBackends(f BackendFactory) Option {
	return func(m *Manager) {
		if f != nil {
			m.factory = f
		}
	}
}

// New returns an uninitialized Manager.
func New(opts ...Option) *Manager {
	m := &Manager{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(m)
	}
	if m.factory == nil {
		WithDetectOptions(detect.Options{})(m)
	}
	return m
}

// Initialize prepares the backends. Calling it again while initialized is a
// no-op. Backends acquire native resources lazily on first query.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeLocked()
}

func (m *Manager) initializeLocked() error {
	if m.initialized {
		return nil
	}
	m.backends = m.factory()
	m.initialized = true
	m.logger.Info("GPUINFO_INIT", "backends", len(m.backends))
	return nil
}

// Cleanup releases every native resource and forgets strategy selections.
// It is safe to call without Initialize and to call repeatedly. Close
// failures are logged and returned joined, but the Manager is uninitialized
// afterwards regardless.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked()
}

func (m *Manager) cleanupLocked() error {
	if !m.initialized {
		return nil
	}
	var errs []error
	for _, b := range m.backends {
		if err := b.Close(); err != nil {
			m.logger.Warn("BACKEND_CLOSE_FAILED", "vendor", b.Vendor(), "error", err)
			errs = append(errs, err)
		}
	}
	m.backends = nil
	m.initialized = false
	m.logger.Info("GPUINFO_CLEANUP")
	return errors.Join(errs...)
}

// Initialized reports whether Initialize has succeeded since the last Cleanup.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Reinitialize runs Cleanup followed by Initialize under one lock, so
// concurrent queries wait for the new backends instead of seeing an
// uninitialized Manager. It is the only way to retry a vendor whose
// strategies were found unavailable.
func (m *Manager) Reinitialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cleanupErr := m.cleanupLocked()
	if err := m.initializeLocked(); err != nil {
		return err
	}
	return cleanupErr
}

// =============================================================================
// DISPATCH
// =============================================================================

// VendorCount is one vendor's contribution to a Census.
type VendorCount struct {
	Vendor   model.Vendor     `json:"vendor"`
	Count    int              `json:"count"`
	Offset   int              `json:"offset"`
	Strategy string           `json:"strategy,omitempty"`
	Attempts []detect.Attempt `json:"attempts,omitempty"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
}

// Census is a snapshot of the global index space.
type Census struct {
	Total   int           `json:"total"`
	Vendors []VendorCount `json:"vendors"`
	// NoDevice is set when every backend failed or reported zero devices.
	NoDevice bool `json:"noDevice"`
}

// Locate maps a global index to a vendor and local index.
func (c Census) Locate(index int) (model.Vendor, int, bool) {
	if index < 0 || index >= c.Total {
		return model.VendorUnknown, 0, false
	}
	for _, v := range c.Vendors {
		if index < v.Offset+v.Count {
			return v.Vendor, index - v.Offset, true
		}
	}
	return model.VendorUnknown, 0, false
}

// Census queries every backend. Backend failures count as zero.
func (m *Manager) Census() (Census, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return Census{}, model.NewError("census", model.VendorUnknown, -1, model.ErrNotInitialized)
	}
	return m.censusLocked(), nil
}

func (m *Manager) censusLocked() Census {
	c := Census{Vendors: make([]VendorCount, 0, len(m.backends))}
	for _, b := range m.backends {
		vc := VendorCount{Vendor: b.Vendor(), Offset: c.Total}
		n, err := b.Count()
		if err != nil {
			vc.Err = err
			vc.Error = err.Error()
			m.logger.Debug("VENDOR_COUNT_FAILED", "vendor", b.Vendor(), "error", err)
		} else {
			vc.Count = n
		}
		if d, ok := b.(interface {
			Selected() (string, error)
			Attempts() []detect.Attempt
		}); ok {
			vc.Strategy, _ = d.Selected()
			vc.Attempts = d.Attempts()
		}
		c.Total += vc.Count
		c.Vendors = append(c.Vendors, vc)
	}
	c.NoDevice = c.Total == 0
	return c
}

// Count returns the number of GPUs across all vendors. Zero is returned
// without error when no device is found.
func (m *Manager) Count() (int, error) {
	c, err := m.Census()
	if err != nil {
		return 0, model.NewError("count", model.VendorUnknown, -1, model.ErrNotInitialized)
	}
	return c.Total, nil
}

// CountStrict is Count for callers that treat an empty machine as an error:
// it returns ErrNoDevice when every backend failed or reported zero devices.
func (m *Manager) CountStrict() (int, error) {
	c, err := m.Census()
	if err != nil {
		return 0, model.NewError("count", model.VendorUnknown, -1, model.ErrNotInitialized)
	}
	if c.NoDevice {
		return 0, model.NewError("count", model.VendorUnknown, -1, model.ErrNoDevice)
	}
	return c.Total, nil
}

// Info returns a fresh record for the GPU at global index i.
func (m *Manager) Info(i int) (*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, model.NewError("info", model.VendorUnknown, i, model.ErrNotInitialized)
	}
	return m.infoLocked(i)
}

func (m *Manager) infoLocked(i int) (*model.Record, error) {
	c := m.censusLocked()
	vendor, local, ok := c.Locate(i)
	if !ok {
		return nil, model.NewError("info", model.VendorUnknown, i, model.ErrInvalidIndex)
	}

	var backend detect.Backend
	for _, b := range m.backends {
		if b.Vendor() == vendor {
			backend = b
			break
		}
	}

	rec, err := backend.Info(local)
	if err != nil {
		if !errors.Is(err, model.ErrBackendFailure) {
			err = fmt.Errorf("%w: %w", model.ErrBackendFailure, err)
		}
		return nil, model.NewError("info", vendor, i, err)
	}
	rec.Index = i
	return rec, nil
}

// All returns one entry per GPU. Entries whose lookup failed are nil; the
// slice length always equals the count taken at the start of the call.
func (m *Manager) All() ([]*model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, model.NewError("all", model.VendorUnknown, -1, model.ErrNotInitialized)
	}

	total := m.censusLocked().Total
	out := make([]*model.Record, total)
	for i := range out {
		rec, err := m.infoLocked(i)
		if err != nil {
			m.logger.Debug("GPU_INFO_HOLE", "index", i, "error", err)
			continue
		}
		out[i] = rec
	}
	return out, nil
}
