// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Messages match the strings historically reported by the
// library so log scrapers keep working.
var (
	// ErrNotInitialized is returned by queries made before Initialize.
	ErrNotInitialized = errors.New("GPU info library not initialized")
	// ErrInvalidIndex is returned for a negative or out-of-range index.
	ErrInvalidIndex = errors.New("Invalid parameter")
	// ErrUnsupported means no detection strategy works for the vendor on
	// this platform.
	ErrUnsupported = errors.New("Operation not supported")
	// ErrBackendFailure means a strategy that was working failed on this call.
	ErrBackendFailure = errors.New("API call failed")
	// ErrNoDevice is the confirmed-zero condition: no backend reported a GPU.
	// Count reports it as zero; CountStrict returns it.
	ErrNoDevice = errors.New("No GPU found")
)

// Error describes a failed operation on a GPU or vendor backend.
type Error struct {
	Op     string
	Vendor Vendor
	Index  int
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	if e.Vendor != VendorUnknown {
		fmt.Fprintf(&sb, " %s", e.Vendor)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&sb, " gpu %d", e.Index)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error. Pass index -1 when no device is involved.
func NewError(op string, vendor Vendor, index int, err error) *Error {
	return &Error{Op: op, Vendor: vendor, Index: index, Err: err}
}

// ErrorCode returns the numeric status code historically reported for err:
// 0 success, -1 not supported, -2 no GPU, -4 invalid parameter and -5 for
// API failures. Calls made before initialization report -5 as well.
func ErrorCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidIndex):
		return -4
	case errors.Is(err, ErrNotInitialized), errors.Is(err, ErrBackendFailure):
		return -5
	case errors.Is(err, ErrUnsupported):
		return -1
	case errors.Is(err, ErrNoDevice):
		return -2
	default:
		return -5
	}
}
