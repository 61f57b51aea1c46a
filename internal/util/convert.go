// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strconv"
	"strings"
)

// FormatFloat formats f with at most prec decimals, dropping trailing zeros.
func FormatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// FormatMB renders a megabyte count as MB below 1 GiB and GB above.
func FormatMB(mb uint64) string {
	if mb < 1024 {
		return strconv.FormatUint(mb, 10) + " MB"
	}
	return FormatFloat(float64(mb)/1024, 1) + " GB"
}
