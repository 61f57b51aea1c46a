// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeranaias/gpuinfo/pkg/model"
)

// Attempt records the outcome of trying one strategy during selection.
type Attempt struct {
	Strategy string `json:"strategy"`
	Count    int    `json:"count"`
	Err      string `json:"error,omitempty"`
}

// Chain is a vendor backend that selects among strategies in priority order.
//
// Selection happens on first use and is memoized: Count and Info keep using
// the selected strategy until Close. A strategy is selected when it probes
// successfully and reports at least one device. If every usable strategy
// reports zero devices the first usable one is kept, so the vendor counts
// zero. If none is usable the chain reports model.ErrUnsupported.
type Chain struct {
	vendor     model.Vendor
	strategies []Strategy
	logger     *slog.Logger

	mu        sync.Mutex
	evaluated bool
	selected  Strategy
	selErr    error
	attempts  []Attempt
}

// NewChain returns a chain over strategies, highest fidelity first.
func NewChain(vendor model.Vendor, logger *slog.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Chain{vendor: vendor, strategies: strategies, logger: logger}
}

// Vendor implements Backend.
func (c *Chain) Vendor() model.Vendor { return c.vendor }

// Count implements Backend.
func (c *Chain) Count() (int, error) {
	s, err := c.strategy()
	if err != nil {
		return 0, model.NewError("count", c.vendor, -1, err)
	}
	n, err := s.Count()
	if err != nil {
		c.logger.Warn("BACKEND_FAILED", "vendor", c.vendor, "strategy", s.Name(), "op", "count", "error", err)
		return 0, model.NewError("count", c.vendor, -1, fmt.Errorf("%w: %s: %w", model.ErrBackendFailure, s.Name(), err))
	}
	return n, nil
}

// Info implements Backend. The record's Vendor is always the chain's vendor.
func (c *Chain) Info(local int) (*model.Record, error) {
	if local < 0 {
		return nil, model.NewError("info", c.vendor, local, model.ErrInvalidIndex)
	}
	s, err := c.strategy()
	if err != nil {
		return nil, model.NewError("info", c.vendor, local, err)
	}
	rec, err := s.Info(local)
	if err != nil {
		c.logger.Warn("BACKEND_FAILED", "vendor", c.vendor, "strategy", s.Name(), "op", "info", "index", local, "error", err)
		return nil, model.NewError("info", c.vendor, local, fmt.Errorf("%w: %s: %w", model.ErrBackendFailure, s.Name(), err))
	}
	rec.Vendor = c.vendor
	rec.Normalize()
	return rec, nil
}

// Selected returns the name of the selected strategy, running selection if
// it has not happened yet.
func (c *Chain) Selected() (string, error) {
	s, err := c.strategy()
	if err != nil {
		return "", err
	}
	return s.Name(), nil
}

// Attempts returns the selection log of the current lifecycle.
func (c *Chain) Attempts() []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Attempt, len(c.attempts))
	copy(out, c.attempts)
	return out
}

// Close releases every strategy and forgets the selection.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, s := range c.strategies {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	c.evaluated = false
	c.selected = nil
	c.selErr = nil
	c.attempts = nil
	return errors.Join(errs...)
}

func (c *Chain) strategy() (Strategy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.evaluated {
		c.selectLocked()
	}
	return c.selected, c.selErr
}

// selectLocked picks the first strategy reporting devices, else the first
// that loaded and confirmed zero. A placeholder is used only when no other
// strategy loaded.
func (c *Chain) selectLocked() {
	var fallback, last Strategy
	c.attempts = c.attempts[:0]

	for _, s := range c.strategies {
		if err := s.Probe(); err != nil {
			c.attempts = append(c.attempts, Attempt{Strategy: s.Name(), Err: err.Error()})
			c.logger.Debug("STRATEGY_UNAVAILABLE", "vendor", c.vendor, "strategy", s.Name(), "error", err)
			continue
		}
		n, err := s.Count()
		if err != nil {
			c.attempts = append(c.attempts, Attempt{Strategy: s.Name(), Err: err.Error()})
			c.logger.Debug("STRATEGY_UNAVAILABLE", "vendor", c.vendor, "strategy", s.Name(), "error", err)
			continue
		}
		c.attempts = append(c.attempts, Attempt{Strategy: s.Name(), Count: n})
		if _, ok := s.(*Placeholder); ok {
			if last == nil {
				last = s
			}
			continue
		}
		if n > 0 {
			c.selected = s
			break
		}
		if fallback == nil {
			fallback = s
		}
	}

	if c.selected == nil {
		c.selected = fallback
	}
	if c.selected == nil {
		c.selected = last
	}
	c.evaluated = true

	if c.selected == nil {
		c.selErr = model.ErrUnsupported
		c.logger.Debug("STRATEGY_EXHAUSTED", "vendor", c.vendor, "tried", len(c.strategies))
		return
	}
	c.selErr = nil
	c.logger.Info("STRATEGY_SELECTED", "vendor", c.vendor, "strategy", c.selected.Name())
}
