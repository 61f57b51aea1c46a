// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the gpuinfo commands.
//
// # Key Functions
//
// String Utilities:
//   - TruncateWidth, PadRight: display-width aware table cells
//
// Number Formatting:
//   - FormatMB: megabytes as a human readable size
//   - FormatFloat: fixed precision without trailing noise
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//
// # Usage
//
//	cell := util.PadRight(util.TruncateWidth(rec.Name, 28), 28)
//	err := util.AtomicWriteFile(path, data, 0o600)
package util
