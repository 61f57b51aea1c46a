// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sysfs reads GPU identity and telemetry from the Linux DRM class
// directory and the hwmon sensors attached to each card.
//
// Cards are enumerated with ghw, which follows the <root>/class/drm links to
// their PCI slots and names them from the PCI ID database. Connector entries
// such as card0-DP-1 are ignored. Counters are resolved by an ordered probe
// list; the first probe that yields a value wins and a missing file simply
// means the field is unknown.
package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/jaypipes/ghw/pkg/gpu"

	"github.com/jeranaias/gpuinfo/internal/platform"
)

// DefaultRoot is the sysfs mount point.
const DefaultRoot = "/sys"

var cardNameRegex = regexp.MustCompile(`^card[0-9]+$`)

// IsCardName reports whether name is a DRM card entry ("card0", not
// "card0-DP-1" or "renderD128").
func IsCardName(name string) bool { return cardNameRegex.MatchString(name) }

// dpmLineRegex matches the active line of pp_dpm_sclk / pp_dpm_mclk,
// e.g. "1: 1800Mhz *".
var dpmLineRegex = regexp.MustCompile(`^\s*\d+:\s*(\d+)\s*[Mm][Hh]z.*\*`)

var (
	// ErrNoDRM is returned when the DRM class directory does not exist.
	ErrNoDRM = errors.New("sysfs: drm class directory not found")

	// ErrRootName is returned when the root is not a directory named "sys".
	// ghw resolves /sys beneath a chroot, so the mount must keep that name.
	ErrRootName = errors.New(`sysfs: root must be a directory named "sys"`)
)

// Card is a DRM card handle.
type Card struct {
	name     string
	dir      string
	address  string
	product  string
	vendorID uint16
}

// ID returns the card name, e.g. "card1".
func (c *Card) ID() string { return c.name }

// VendorID returns the PCI vendor id.
func (c *Card) VendorID() uint16 { return c.vendorID }

// Adapter implements platform.Adapter over a sysfs tree.
type Adapter struct {
	root string
}

// New returns an Adapter rooted at root. An empty root means DefaultRoot.
func New(root string) *Adapter {
	if root == "" {
		root = DefaultRoot
	}
	return &Adapter{root: filepath.Clean(root)}
}

// Name implements platform.Adapter.
func (a *Adapter) Name() string { return "sysfs" }

// DRMDir returns the directory scanned for cards.
func (a *Adapter) DRMDir() string {
	return filepath.Join(a.root, "class", "drm")
}

// EnumerateDevices lists cards in numeric order. Cards whose vendor id
// cannot be resolved are skipped.
func (a *Adapter) EnumerateDevices() ([]platform.Handle, error) {
	if _, err := os.Stat(a.DRMDir()); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoDRM
		}
		return nil, fmt.Errorf("sysfs: read drm dir: %w", err)
	}
	if filepath.Base(a.root) != "sys" {
		return nil, fmt.Errorf("%w: %s", ErrRootName, a.root)
	}

	info, err := gpu.New(ghw.WithChroot(filepath.Dir(a.root)), ghw.WithDisableWarnings())
	if err != nil {
		return nil, fmt.Errorf("sysfs: enumerate cards: %w", err)
	}

	type indexed struct {
		n    int
		card *Card
	}
	var found []indexed
	for _, gc := range info.GraphicsCards {
		name := "card" + strconv.Itoa(gc.Index)
		c := &Card{name: name, dir: filepath.Join(a.DRMDir(), name), address: gc.Address}
		if di := gc.DeviceInfo; di != nil {
			if di.Vendor != nil {
				if v, err := strconv.ParseUint(di.Vendor.ID, 16, 16); err == nil {
					c.vendorID = uint16(v)
				}
			}
			if di.Product != nil && !isUnknown(di.Product.Name) {
				c.product = di.Product.Name
			}
		}
		// Hosts without a PCI ID database still expose the raw id.
		if c.vendorID == 0 {
			v, ok := readUint(filepath.Join(c.dir, "device", "vendor"))
			if !ok || v == 0 || v > 0xffff {
				continue
			}
			c.vendorID = uint16(v)
		}
		found = append(found, indexed{gc.Index, c})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	handles := make([]platform.Handle, len(found))
	for i, f := range found {
		handles[i] = f.card
	}
	return handles, nil
}

// ReadField implements platform.Adapter.
func (a *Adapter) ReadField(h platform.Handle, f platform.FieldID) (platform.Value, bool) {
	c, ok := h.(*Card)
	if !ok {
		return platform.Value{}, false
	}
	for _, p := range probes[f] {
		if v, ok := p(c); ok {
			return v, true
		}
	}
	return platform.Value{}, false
}

func isUnknown(name string) bool {
	return name == "" || strings.EqualFold(name, "unknown")
}

// =============================================================================
// PROBES
// =============================================================================

// probe reads one candidate source for a field of a card.
type probe func(c *Card) (platform.Value, bool)

var probes = map[platform.FieldID][]probe{
	platform.FieldName: {
		textFile("device/product_name"),
		pciProduct,
		textFile("device/model"),
	},
	platform.FieldDeviceID: {
		uintFile("device/device"),
	},
	platform.FieldPCIBusID: {
		pciAddress,
	},
	platform.FieldDriverVersion: {
		textFile("device/driver/module/version"),
	},
	platform.FieldMemoryTotalBytes: {
		uintFile("device/mem_info_vram_total"),
	},
	platform.FieldMemoryUsedBytes: {
		uintFile("device/mem_info_vram_used"),
	},
	platform.FieldGPUBusyPercent: {
		uintFile("device/gpu_busy_percent"),
	},
	platform.FieldTemperatureMilliC: {
		hwmonFile("temp1_input"),
		hwmonFile("temp2_input"),
	},
	platform.FieldPowerMicroW: {
		hwmonFile("power1_average"),
		hwmonFile("power1_input"),
	},
	platform.FieldCoreClockMHz: {
		dpmClock("device/pp_dpm_sclk"),
		uintFile("gt_cur_freq_mhz"),
		uintFile("device/tile0/gt0/freq0/cur_freq"),
	},
	platform.FieldMemoryClockMHz: {
		dpmClock("device/pp_dpm_mclk"),
	},
	platform.FieldFanPWM: {
		hwmonFile("pwm1"),
	},
	platform.FieldFanRPM: {
		hwmonFile("fan1_input"),
	},
	platform.FieldFanMaxRPM: {
		hwmonFile("fan1_max"),
	},
}

func textFile(rel string) probe {
	return func(c *Card) (platform.Value, bool) {
		s, ok := readText(filepath.Join(c.dir, rel))
		if !ok || s == "" {
			return platform.Value{}, false
		}
		return platform.Text(s), true
	}
}

func uintFile(rel string) probe {
	return func(c *Card) (platform.Value, bool) {
		n, ok := readUint(filepath.Join(c.dir, rel))
		if !ok {
			return platform.Value{}, false
		}
		return platform.Uint(n), true
	}
}

// pciProduct is the device name from the PCI ID database.
func pciProduct(c *Card) (platform.Value, bool) {
	if c.product == "" {
		return platform.Value{}, false
	}
	return platform.Text(c.product), true
}

func pciAddress(c *Card) (platform.Value, bool) {
	if c.address == "" {
		return platform.Value{}, false
	}
	return platform.Text(c.address), true
}

// hwmonFile tries the named sensor in every hwmon directory of the card in
// name order.
func hwmonFile(name string) probe {
	return func(c *Card) (platform.Value, bool) {
		dirs, _ := filepath.Glob(filepath.Join(c.dir, "device", "hwmon", "hwmon*"))
		sort.Strings(dirs)
		for _, d := range dirs {
			if n, ok := readUint(filepath.Join(d, name)); ok {
				return platform.Uint(n), true
			}
		}
		return platform.Value{}, false
	}
}

func dpmClock(rel string) probe {
	return func(c *Card) (platform.Value, bool) {
		s, ok := readText(filepath.Join(c.dir, rel))
		if !ok {
			return platform.Value{}, false
		}
		if mhz, ok := ParseDPMClock(s); ok {
			return platform.Uint(mhz), true
		}
		return platform.Value{}, false
	}
}

// ParseDPMClock extracts the active clock in MHz from a pp_dpm_* table.
func ParseDPMClock(table string) (uint64, bool) {
	for _, line := range strings.Split(table, "\n") {
		m := dpmLineRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

func readText(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

func readUint(path string) (uint64, bool) {
	s, ok := readText(path)
	if !ok {
		return 0, false
	}
	return platform.ParseUint(s)
}
