// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for gpuinfo.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - DetectionConfig: Vendor enablement and strategy ordering
//   - ServerConfig: Listen address, rate limiting and hot-plug for `serve`
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (GPUINFO_*)
//   - ~/.gpuinfo/config.toml
//   - ~/.gpuinfo/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	m := gpuinfo.New(gpuinfo.WithDetectOptions(cfg.DetectOptions(logger)))
package config
