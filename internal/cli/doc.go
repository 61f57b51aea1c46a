// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line interface parsing and execution for
// gpuinfo.
//
// # Key Types
//
//   - Command: Enumeration of all available CLI commands
//   - Args: Parsed command-line arguments with global and command-specific flags
//   - JSONResponse: Envelope for --json output
//
// # Usage
//
// Parse and execute commands:
//
//	cmd, args := cli.Parse()
//	os.Exit(cli.Run(cmd, args))
//
// # Commands Overview
//
//   - list: Table of every GPU (default)
//   - count: Number of GPUs across all vendors
//   - info: Full record for one GPU by global index
//   - doctor: Explain which detection strategies work and why
//   - serve: HTTP JSON API and Prometheus exporter
//   - config: Show, get, set and initialize the config file
//
// All commands support --json for machine-readable output.
package cli
