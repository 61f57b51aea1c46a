// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package registry

// New returns a Reader that reports ErrUnavailable.
func New() *Reader {
	return &Reader{source: func() ([]Entry, error) { return nil, ErrUnavailable }}
}
