// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/gpuinfo/pkg/model"
)

// isolate points the home directory at a temp dir and clears GPUINFO_*
// overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, k := range []string{
		"GPUINFO_NVML_LIBRARY", "GPUINFO_SYSFS_ROOT", "GPUINFO_PLACEHOLDER",
		"GPUINFO_LISTEN", "GPUINFO_LOG_LEVEL", "GPUINFO_AUTH_TOKEN", "GPUINFO_DISABLE_VENDORS",
	} {
		t.Setenv(k, "")
	}
	return home
}

func TestLoad_NoFile(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load without a file: %v", err)
	}
	if cfg.Version == "" {
		t.Error("Config version should not be empty")
	}
	if cfg.Sysfs.Root != "/sys" {
		t.Errorf("Sysfs.Root = %q, want /sys", cfg.Sysfs.Root)
	}
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Detection.Placeholder {
		t.Error("placeholder records should be off by default")
	}
	if cfg.Detection.CommandTimeoutSecs != 10 {
		t.Errorf("CommandTimeoutSecs = %d, want 10", cfg.Detection.CommandTimeoutSecs)
	}
	if cfg.Server.Listen == "" {
		t.Error("default listen address should be set")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "unknown disabled vendor",
			mutate:  func(c *Config) { c.Detection.DisabledVendors = []string{"matrox"} },
			field:   "detection.disabled_vendors",
			wantErr: true,
		},
		{
			name:   "known disabled vendor",
			mutate: func(c *Config) { c.Detection.DisabledVendors = []string{"NVIDIA", "intel"} },
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Detection.Order = map[string][]string{"amd": {"sysfs", "wmi"}} },
			field:   "detection.order.amd",
			wantErr: true,
		},
		{
			name:    "unknown order vendor",
			mutate:  func(c *Config) { c.Detection.Order = map[string][]string{"3dfx": {"sysfs"}} },
			field:   "detection.order",
			wantErr: true,
		},
		{
			name:    "bad listen",
			mutate:  func(c *Config) { c.Server.Listen = "nonsense" },
			field:   "server.listen",
			wantErr: true,
		},
		{
			name:    "negative rate",
			mutate:  func(c *Config) { c.Server.RateLimit = -1 },
			field:   "server.rate_limit",
			wantErr: true,
		},
		{
			name:   "allowed ips",
			mutate: func(c *Config) { c.Server.AllowedIPs = []string{"10.0.0.0/8", "::1"} },
		},
		{
			name:    "bad allowed ip",
			mutate:  func(c *Config) { c.Server.AllowedIPs = []string{"10.0.0.0/33"} },
			field:   "server.allowed_ips",
			wantErr: true,
		},
		{
			name:   "container sysfs root",
			mutate: func(c *Config) { c.Sysfs.Root = "/host/sys/" },
		},
		{
			name:    "sysfs root not named sys",
			mutate:  func(c *Config) { c.Sysfs.Root = "/host/sysfs" },
			field:   "sysfs.root",
			wantErr: true,
		},
		{
			name:    "bad level",
			mutate:  func(c *Config) { c.Log.Level = "chatty" },
			field:   "log.level",
			wantErr: true,
		},
		{
			name:    "bad format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			field:   "log.format",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error type = %T, want ValidateErrors", err)
			}
			if verrs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", verrs[0].Field, tt.field)
			}
		})
	}
}

func TestConfig_LoadTOMLAndEnv(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".gpuinfo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data := `
[nvml]
library = "/opt/nvidia/libnvidia-ml.so.1"

[detection]
disabled_vendors = ["intel"]
placeholder = true

[detection.order]
amd = ["sysfs"]

[log]
level = "debug"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GPUINFO_LISTEN", "0.0.0.0:9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.NVML.Library != "/opt/nvidia/libnvidia-ml.so.1" {
		t.Errorf("NVML.Library = %q", cfg.NVML.Library)
	}
	if !cfg.Detection.Placeholder {
		t.Error("placeholder should be enabled from file")
	}
	if cfg.Server.Listen != "0.0.0.0:9100" {
		t.Errorf("Server.Listen = %q, env override not applied", cfg.Server.Listen)
	}
	if cfg.Sysfs.Root != "/sys" {
		t.Errorf("Sysfs.Root = %q, default not filled", cfg.Sysfs.Root)
	}

	opts := cfg.DetectOptions(nil)
	if len(opts.Disabled) != 1 || opts.Disabled[0] != model.VendorIntel {
		t.Errorf("Disabled = %v, want [INTEL]", opts.Disabled)
	}
	if got := opts.Order[model.VendorAMD]; len(got) != 1 || got[0] != "sysfs" {
		t.Errorf("Order[AMD] = %v", got)
	}
	if opts.CommandTimeout != 10*time.Second {
		t.Errorf("CommandTimeout = %v", opts.CommandTimeout)
	}
	if opts.NVMLLibrary != cfg.NVML.Library {
		t.Errorf("NVMLLibrary = %q", opts.NVMLLibrary)
	}
}

func TestConfig_LoadJSONFallback(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".gpuinfo", "config.json")
	cfg := Default()
	cfg.Sysfs.Root = "/tmp/fake/sys"
	if err := SaveJSON(cfg, path); err != nil {
		t.Fatalf("SaveJSON() error = %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Sysfs.Root != "/tmp/fake/sys" {
		t.Errorf("Sysfs.Root = %q", loaded.Sysfs.Root)
	}
}

func TestConfig_LoadInvalidFileFallsBack(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".gpuinfo")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[log]\nlevel = \"loud\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() should report the invalid file")
	}
	if cfg == nil || cfg.Log.Level != "info" {
		t.Fatalf("Load() should return defaults, got %+v", cfg)
	}
}

func TestConfig_SaveTOMLRoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Detection.DisabledVendors = []string{"amd"}
	cfg.Server.RateLimit = 2.5
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 && os.PathSeparator == '/' {
		t.Errorf("permissions = %o, want 600", perm)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Server.RateLimit != 2.5 {
		t.Errorf("RateLimit = %v", loaded.Server.RateLimit)
	}
	if len(loaded.Detection.DisabledVendors) != 1 || loaded.Detection.DisabledVendors[0] != "amd" {
		t.Errorf("DisabledVendors = %v", loaded.Detection.DisabledVendors)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("GPUINFO_SYSFS_ROOT", "/host/sys")
	t.Setenv("GPUINFO_DISABLE_VENDORS", "nvidia, amd")
	t.Setenv("GPUINFO_PLACEHOLDER", "yes")
	t.Setenv("GPUINFO_LOG_LEVEL", "warn")
	t.Setenv("GPUINFO_AUTH_TOKEN", "tok")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Server.AuthToken != "tok" {
		t.Errorf("AuthToken = %q", cfg.Server.AuthToken)
	}

	if cfg.Sysfs.Root != "/host/sys" {
		t.Errorf("Sysfs.Root = %q", cfg.Sysfs.Root)
	}
	if len(cfg.Detection.DisabledVendors) != 2 || cfg.Detection.DisabledVendors[1] != "amd" {
		t.Errorf("DisabledVendors = %v", cfg.Detection.DisabledVendors)
	}
	if !cfg.Detection.Placeholder {
		t.Error("Placeholder should be enabled")
	}
	if cfg.SlogLevel().String() != "WARN" {
		t.Errorf("SlogLevel = %v", cfg.SlogLevel())
	}
}

func TestConfig_EmptyEnvKeepsFileValues(t *testing.T) {
	isolate(t)

	cfg := Default()
	cfg.Detection.DisabledVendors = []string{"intel"}
	cfg.Sysfs.Root = "/host/sys"
	cfg.ApplyEnvOverrides()

	if len(cfg.Detection.DisabledVendors) != 1 || cfg.Detection.DisabledVendors[0] != "intel" {
		t.Errorf("DisabledVendors = %v, want [intel]", cfg.Detection.DisabledVendors)
	}
	if cfg.Sysfs.Root != "/host/sys" {
		t.Errorf("Sysfs.Root = %q", cfg.Sysfs.Root)
	}
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	if err := cfg.Set("server.listen", "127.0.0.1:1234"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := cfg.Get("server.listen")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "127.0.0.1:1234" {
		t.Errorf("Get() = %v", got)
	}

	if err := cfg.Set("detection.placeholder", "true"); err != nil {
		t.Fatal(err)
	}
	if !cfg.Detection.Placeholder {
		t.Error("placeholder not set")
	}
	if err := cfg.Set("detection.command_timeout_secs", "30"); err != nil {
		t.Fatal(err)
	}
	if cfg.Detection.CommandTimeoutSecs != 30 {
		t.Errorf("CommandTimeoutSecs = %d", cfg.Detection.CommandTimeoutSecs)
	}
	if err := cfg.Set("detection.disabled_vendors", "intel,amd"); err != nil {
		t.Fatal(err)
	}
	if len(cfg.Detection.DisabledVendors) != 2 {
		t.Errorf("DisabledVendors = %v", cfg.Detection.DisabledVendors)
	}

	if _, err := cfg.Get("server.nope"); err == nil {
		t.Error("Get() of unknown key should fail")
	}
	if err := cfg.Set("log.level.x", "debug"); err == nil {
		t.Error("Set() through a scalar should fail")
	}
	if err := cfg.Set("server.rate_burst", "many"); err == nil {
		t.Error("Set() with a bad integer should fail")
	}

	for _, key := range GetAllKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q) error = %v", key, err)
		}
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := Default()
	cfg.Detection.DisabledVendors = []string{"amd"}
	cfg.Detection.Order = map[string][]string{"nvidia": {"nvml"}}

	clone := cfg.Clone()
	clone.Detection.DisabledVendors[0] = "intel"
	clone.Detection.Order["nvidia"][0] = "sysfs"

	if cfg.Detection.DisabledVendors[0] != "amd" {
		t.Error("Clone shares DisabledVendors")
	}
	if cfg.Detection.Order["nvidia"][0] != "nvml" {
		t.Error("Clone shares Order")
	}
}
