// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jeranaias/gpuinfo/pkg/model"
)

// =============================================================================
// TEST STRATEGY
// =============================================================================

type fakeStrategy struct {
	name     string
	probeErr error
	count    int
	countErr error
	infoErr  error

	mu     sync.Mutex
	probes int
	closes int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Probe() error {
	f.mu.Lock()
	f.probes++
	f.mu.Unlock()
	return f.probeErr
}

func (f *fakeStrategy) Count() (int, error) { return f.count, f.countErr }

func (f *fakeStrategy) Info(i int) (*model.Record, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	if i >= f.count {
		return nil, fmt.Errorf("%w: %d", errIndexOutOfRange, i)
	}
	return &model.Record{
		Index:          i,
		Name:           fmt.Sprintf("%s-%d", f.name, i),
		Source:         model.Source(f.name),
		GPUUtilization: 250,
		Memory:         model.Memory{Total: 1000, Used: 400},
	}, nil
}

func (f *fakeStrategy) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeStrategy) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

// =============================================================================
// SELECTION TESTS
// =============================================================================

func TestChain_SelectsFirstWithDevices(t *testing.T) {
	native := &fakeStrategy{name: "native", probeErr: errors.New("library not found")}
	empty := &fakeStrategy{name: "enum", count: 0}
	scan := &fakeStrategy{name: "scan", count: 2}
	ph := &fakeStrategy{name: "placeholder", count: 1}

	c := NewChain(model.VendorAMD, nil, native, empty, scan, ph)

	n, err := c.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}

	name, err := c.Selected()
	if err != nil || name != "scan" {
		t.Errorf("Selected() = %q, %v; want scan", name, err)
	}
	if ph.probeCount() != 0 {
		t.Errorf("strategies after the selected one should not be probed")
	}

	attempts := c.Attempts()
	if len(attempts) != 3 {
		t.Fatalf("Attempts() len = %d, want 3", len(attempts))
	}
	if attempts[0].Err == "" || attempts[1].Count != 0 || attempts[2].Count != 2 {
		t.Errorf("unexpected attempts: %+v", attempts)
	}
}

func TestChain_SelectionIsMemoized(t *testing.T) {
	s := &fakeStrategy{name: "scan", count: 1}
	c := NewChain(model.VendorIntel, nil, s)

	for i := 0; i < 5; i++ {
		if _, err := c.Count(); err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if _, err := c.Info(0); err != nil {
			t.Fatalf("Info() error = %v", err)
		}
	}
	if got := s.probeCount(); got != 1 {
		t.Errorf("Probe called %d times, want 1", got)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.closes != 1 {
		t.Errorf("Close should release each strategy once, got %d", s.closes)
	}
	if len(c.Attempts()) != 0 {
		t.Errorf("Close should forget attempts")
	}

	if _, err := c.Count(); err != nil {
		t.Fatalf("Count() after Close error = %v", err)
	}
	if got := s.probeCount(); got != 2 {
		t.Errorf("selection should rerun after Close, probes = %d", got)
	}
}

func TestChain_ZeroDevicesKeepsFirstUsable(t *testing.T) {
	first := &fakeStrategy{name: "enum", count: 0}
	second := &fakeStrategy{name: "scan", count: 0}
	c := NewChain(model.VendorNVIDIA, nil, first, second)

	n, err := c.Count()
	if err != nil || n != 0 {
		t.Fatalf("Count() = %d, %v; want 0, nil", n, err)
	}
	if name, _ := c.Selected(); name != "enum" {
		t.Errorf("Selected() = %q, want enum", name)
	}
}

func TestChain_ConfirmedZeroBeatsPlaceholder(t *testing.T) {
	native := &fakeStrategy{name: "nvml", count: 0}
	hinted := NewPlaceholder(model.VendorNVIDIA, "Linux", func() bool { return true })
	c := NewChain(model.VendorNVIDIA, nil, native, hinted)

	n, err := c.Count()
	if err != nil || n != 0 {
		t.Fatalf("Count() = %d, %v; want 0, nil", n, err)
	}
	if name, _ := c.Selected(); name != "nvml" {
		t.Errorf("Selected() = %q, want nvml", name)
	}
}

func TestChain_PlaceholderOrderedFirstStillLast(t *testing.T) {
	hinted := NewPlaceholder(model.VendorAMD, "Linux", func() bool { return true })
	native := &fakeStrategy{name: "sysfs", count: 2}
	c := NewChain(model.VendorAMD, nil, hinted, native)

	n, err := c.Count()
	if err != nil || n != 2 {
		t.Fatalf("Count() = %d, %v; want 2, nil", n, err)
	}
	if name, _ := c.Selected(); name != "sysfs" {
		t.Errorf("Selected() = %q, want sysfs", name)
	}
}

func TestChain_PlaceholderWhenNothingLoads(t *testing.T) {
	native := &fakeStrategy{name: "nvml", probeErr: errors.New("library not found")}
	hinted := NewPlaceholder(model.VendorNVIDIA, "Linux", func() bool { return true })
	c := NewChain(model.VendorNVIDIA, nil, native, hinted)

	n, err := c.Count()
	if err != nil || n != 1 {
		t.Fatalf("Count() = %d, %v; want 1, nil", n, err)
	}
	if name, _ := c.Selected(); name != string(model.SourcePlaceholder) {
		t.Errorf("Selected() = %q, want placeholder", name)
	}
}

func TestChain_Unsupported(t *testing.T) {
	tests := []struct {
		name       string
		strategies []Strategy
	}{
		{"no strategies", nil},
		{"all unavailable", []Strategy{
			&fakeStrategy{name: "a", probeErr: errors.New("missing")},
			&fakeStrategy{name: "b", countErr: errors.New("enumeration failed")},
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChain(model.VendorAMD, nil, tc.strategies...)

			n, err := c.Count()
			if n != 0 || !errors.Is(err, model.ErrUnsupported) {
				t.Errorf("Count() = %d, %v; want 0, ErrUnsupported", n, err)
			}
			_, err = c.Info(0)
			if !errors.Is(err, model.ErrUnsupported) {
				t.Errorf("Info() error = %v, want ErrUnsupported", err)
			}
		})
	}
}

func TestChain_BackendFailure(t *testing.T) {
	s := &fakeStrategy{name: "native", count: 1}
	c := NewChain(model.VendorNVIDIA, nil, s)
	if _, err := c.Count(); err != nil {
		t.Fatalf("Count() error = %v", err)
	}

	s.countErr = errors.New("GPU is lost")
	s.infoErr = errors.New("GPU is lost")

	if _, err := c.Count(); !errors.Is(err, model.ErrBackendFailure) {
		t.Errorf("Count() error = %v, want ErrBackendFailure", err)
	}
	_, err := c.Info(0)
	if !errors.Is(err, model.ErrBackendFailure) {
		t.Errorf("Info() error = %v, want ErrBackendFailure", err)
	}
	var gerr *model.Error
	if !errors.As(err, &gerr) || gerr.Vendor != model.VendorNVIDIA || gerr.Index != 0 {
		t.Errorf("Info() error should carry vendor and index, got %#v", err)
	}

	if name, _ := c.Selected(); name != "native" {
		t.Errorf("a transient failure must not change the selection")
	}
}

func TestChain_InfoNormalizesAndStampsVendor(t *testing.T) {
	c := NewChain(model.VendorIntel, nil, &fakeStrategy{name: "scan", count: 1})

	rec, err := c.Info(0)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if rec.Vendor != model.VendorIntel {
		t.Errorf("Vendor = %v, want INTEL", rec.Vendor)
	}
	if rec.GPUUtilization != 100 {
		t.Errorf("GPUUtilization = %v, want clamped 100", rec.GPUUtilization)
	}
	if rec.Memory.Free != 600 {
		t.Errorf("Memory.Free = %d, want 600", rec.Memory.Free)
	}

	if _, err := c.Info(-1); !errors.Is(err, model.ErrInvalidIndex) {
		t.Errorf("Info(-1) error = %v, want ErrInvalidIndex", err)
	}
	if _, err := c.Info(1); !errors.Is(err, model.ErrBackendFailure) {
		t.Errorf("Info(1) error = %v, want ErrBackendFailure", err)
	}
}

func TestChain_ConcurrentFirstUse(t *testing.T) {
	s := &fakeStrategy{name: "scan", count: 3}
	c := NewChain(model.VendorAMD, nil, s)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.Info(i % 3); err != nil {
				t.Errorf("Info(%d) error = %v", i%3, err)
			}
		}(i)
	}
	wg.Wait()

	if got := s.probeCount(); got != 1 {
		t.Errorf("Probe called %d times, want 1", got)
	}
}

// =============================================================================
// OPTIONS TESTS
// =============================================================================

func TestApplyOrder(t *testing.T) {
	a := &fakeStrategy{name: "nvml"}
	b := &fakeStrategy{name: "sysfs"}
	p := &fakeStrategy{name: "placeholder"}

	got := applyOrder([]Strategy{a, b, p}, []string{"sysfs", "bogus", "nvml"})
	if len(got) != 2 || got[0] != b || got[1] != a {
		t.Errorf("applyOrder() = %v", got)
	}

	got = applyOrder([]Strategy{a, b}, nil)
	if len(got) != 2 || got[0] != a {
		t.Errorf("empty order should keep defaults")
	}
}

func TestNewBackends_DisabledVendor(t *testing.T) {
	backends := NewBackends(Options{Disabled: []model.Vendor{model.VendorNVIDIA, model.VendorAMD, model.VendorIntel}})
	if len(backends) != 3 {
		t.Fatalf("NewBackends() len = %d, want 3", len(backends))
	}
	for i, b := range backends {
		if b.Vendor() != model.Vendors[i] {
			t.Errorf("backend %d vendor = %v, want %v", i, b.Vendor(), model.Vendors[i])
		}
		if _, err := b.Count(); !errors.Is(err, model.ErrUnsupported) {
			t.Errorf("disabled %v Count() error = %v, want ErrUnsupported", b.Vendor(), err)
		}
	}
}
