// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the canonical device record returned for every GPU,
// the vendor enumeration, and the error taxonomy shared by all backends.
//
// # Key Types
//
//   - Vendor: silicon vendor (NVIDIA, AMD, INTEL, UNKNOWN)
//   - Record: fully populated telemetry snapshot for one GPU
//   - Memory: total/used/free in MB
//   - FieldSet: which telemetry fields were actually read
//   - Source: the detection strategy that produced a record
//
// # Unknown Values
//
// Every record field always carries a defined value. Telemetry that could not
// be read is reported as zero. Callers that need to tell "truly zero" from
// "not read" check Record.Fields:
//
//	if rec.Fields.Has(model.FieldTemperature) {
//		fmt.Printf("%.1f C\n", rec.TemperatureC)
//	}
//
// # Errors
//
// Operations fail with one of the sentinel errors (ErrNotInitialized,
// ErrInvalidIndex, ErrUnsupported, ErrBackendFailure, ErrNoDevice), usually
// wrapped in an *Error carrying the operation, vendor and index. Use
// errors.Is to test for them.
package model
