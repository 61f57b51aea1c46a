// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/gpuinfo/pkg/model"
)

var errNoDriverHint = errors.New("no driver installation found")

// DriverHint reports whether a vendor driver appears to be installed.
type DriverHint func() bool

// PathHint returns a DriverHint that is satisfied when any path exists.
func PathHint(paths ...string) DriverHint {
	return func() bool {
		for _, p := range paths {
			if p == "" {
				continue
			}
			if _, err := os.Stat(p); err == nil {
				return true
			}
		}
		return false
	}
}

// EnvHint returns a DriverHint satisfied when any variable is set.
func EnvHint(vars ...string) DriverHint {
	return func() bool {
		for _, v := range vars {
			if os.Getenv(v) != "" {
				return true
			}
		}
		return false
	}
}

// AnyHint combines hints.
func AnyHint(hints ...DriverHint) DriverHint {
	return func() bool {
		for _, h := range hints {
			if h != nil && h() {
				return true
			}
		}
		return false
	}
}

// Placeholder reports a single identity-only device when a vendor driver is
// installed but no other strategy can see the device. Its records have
// Source model.SourcePlaceholder, an empty FieldSet and zero telemetry.
type Placeholder struct {
	vendor  model.Vendor
	osLabel string
	hint    DriverHint
}

// NewPlaceholder returns a placeholder strategy for vendor.
func NewPlaceholder(vendor model.Vendor, osLabel string, hint DriverHint) *Placeholder {
	return &Placeholder{vendor: vendor, osLabel: osLabel, hint: hint}
}

// Name implements Strategy.
func (p *Placeholder) Name() string { return string(model.SourcePlaceholder) }

// Probe implements Strategy.
func (p *Placeholder) Probe() error {
	if p.hint == nil || !p.hint() {
		return errNoDriverHint
	}
	return nil
}

// Count implements Strategy.
func (p *Placeholder) Count() (int, error) { return 1, nil }

// Info implements Strategy.
func (p *Placeholder) Info(i int) (*model.Record, error) {
	if i != 0 {
		return nil, fmt.Errorf("%w: %d of 1", errIndexOutOfRange, i)
	}
	rec := &model.Record{
		Index:    0,
		Vendor:   p.vendor,
		Name:     placeholderName(p.vendor),
		UUID:     fmt.Sprintf("%s-%s-Placeholder", vendorLabel(p.vendor), p.osLabel),
		PCIBusID: "PCI:0",
		Source:   model.SourcePlaceholder,
	}
	rec.Normalize()
	return rec, nil
}

// Close implements Strategy.
func (p *Placeholder) Close() error { return nil }

func placeholderName(v model.Vendor) string {
	return vendorLabel(v) + " Graphics (Placeholder)"
}

// vendorLabel is the display spelling used in synthesized identities.
func vendorLabel(v model.Vendor) string {
	if v == model.VendorIntel {
		return "Intel"
	}
	return v.String()
}
