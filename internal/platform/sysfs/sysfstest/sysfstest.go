// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sysfstest builds fake sysfs trees for tests.
//
// The tree mirrors the kernel layout: class/drm/cardN links into the PCI
// device directory, bus/pci/devices/<slot> links to the same directory, and
// a small pci.ids database sits beside the sys directory.
package sysfstest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Card describes one fake DRM card. Files maps paths relative to the card
// directory to their contents. A card without a Slot is written as a plain
// directory with no PCI device behind it.
type Card struct {
	Name  string
	Slot  string
	Files map[string]string
}

// PCIIDs is the database written next to every tree.
const PCIIDs = `# test subset
1002  Advanced Micro Devices, Inc. [AMD/ATI]
	744c  Navi 31 [Radeon RX 7900 XT/7900 XTX/7900 GRE/7900M]
10de  NVIDIA Corporation
	2684  AD102 [GeForce RTX 4090]
8086  Intel Corporation
	56a0  DG2 [Arc A770]
`

// AMD returns a fully populated amdgpu card.
func AMD(name, slot string) Card {
	return Card{Name: name, Slot: slot, Files: map[string]string{
		"device/vendor":                      "0x1002\n",
		"device/device":                      "0x744c\n",
		"device/uevent":                      "DRIVER=amdgpu\nPCI_CLASS=30000\nPCI_SLOT_NAME=" + slot + "\n",
		"device/product_name":                "Radeon RX 7900 XTX\n",
		"device/mem_info_vram_total":         "25753026560\n",
		"device/mem_info_vram_used":          "1073741824\n",
		"device/gpu_busy_percent":            "37\n",
		"device/hwmon/hwmon2/temp1_input":    "52000\n",
		"device/hwmon/hwmon2/power1_average": "61000000\n",
		"device/hwmon/hwmon2/pwm1":           "102\n",
		"device/pp_dpm_sclk":                 "0: 500Mhz\n1: 2304Mhz *\n2: 2500Mhz\n",
		"device/pp_dpm_mclk":                 "0: 96Mhz\n1: 1249Mhz *\n",
	}}
}

// Intel returns an i915 card with only identity and a frequency counter.
func Intel(name, slot string) Card {
	return Card{Name: name, Slot: slot, Files: map[string]string{
		"device/vendor":   "0x8086\n",
		"device/device":   "0x56a0\n",
		"device/uevent":   "DRIVER=i915\nPCI_SLOT_NAME=" + slot + "\n",
		"gt_cur_freq_mhz": "1650\n",
	}}
}

// NVIDIA returns a card bound to the proprietary driver, which exposes
// identity but no telemetry through sysfs.
func NVIDIA(name, slot string) Card {
	return Card{Name: name, Slot: slot, Files: map[string]string{
		"device/vendor": "0x10de\n",
		"device/device": "0x2684\n",
		"device/uevent": "DRIVER=nvidia\nPCI_SLOT_NAME=" + slot + "\n",
	}}
}

// Build writes the cards under root and returns root. An empty root
// allocates <tmp>/sys.
func Build(t testing.TB, root string, cards ...Card) string {
	t.Helper()
	if root == "" {
		root = filepath.Join(t.TempDir(), "sys")
	}
	drm := filepath.Join(root, "class", "drm")
	mkdir(t, drm)
	ids := filepath.Join(filepath.Dir(root), "usr", "share", "hwdata", "pci.ids")
	mkdir(t, filepath.Dir(ids))
	write(t, ids, PCIIDs)

	for _, c := range cards {
		if c.Slot == "" {
			mkdir(t, filepath.Join(drm, c.Name))
		} else {
			linkSlot(t, root, c)
		}
		for rel, content := range c.Files {
			p := filepath.Join(drm, c.Name, rel)
			mkdir(t, filepath.Dir(p))
			write(t, p, content)
		}
	}
	return root
}

// linkSlot creates the PCI device directory for c and the links the kernel
// would expose for it.
func linkSlot(t testing.TB, root string, c Card) {
	t.Helper()
	rel := filepath.Join("devices", "pci0000:00", c.Slot)
	dev := filepath.Join(root, rel)
	mkdir(t, filepath.Join(dev, "drm", c.Name))

	symlink(t, filepath.Join("..", "..", "..", c.Slot), filepath.Join(dev, "drm", c.Name, "device"))
	symlink(t, filepath.Join("..", "..", rel, "drm", c.Name), filepath.Join(root, "class", "drm", c.Name))

	bus := filepath.Join(root, "bus", "pci", "devices")
	mkdir(t, bus)
	if _, err := os.Lstat(filepath.Join(bus, c.Slot)); os.IsNotExist(err) {
		symlink(t, filepath.Join("..", "..", "..", rel), filepath.Join(bus, c.Slot))
	}

	vendor, ok := hexID(c.Files["device/vendor"])
	if !ok {
		return
	}
	device, _ := hexID(c.Files["device/device"])
	write(t, filepath.Join(dev, "modalias"),
		fmt.Sprintf("pci:v%08Xd%08Xsv%08Xsd%08Xbc03sc00i00\n", vendor, device, vendor, 0))
}

func hexID(s string) (uint64, bool) {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(s), "0x"), 16, 16)
	return n, err == nil
}

func mkdir(t testing.TB, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

func write(t testing.TB, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func symlink(t testing.TB, target, link string) {
	t.Helper()
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("symlink %s: %v", link, err)
	}
}
