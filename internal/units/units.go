// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package units converts raw vendor readings into the units used by
// model.Record: MB, degrees Celsius, watts, MHz and percent.
package units

import "math"

const bytesPerMB = 1024 * 1024

// BytesToMB converts bytes to whole MB, truncating.
func BytesToMB(b uint64) uint64 {
	return b / bytesPerMB
}

// KBToMB converts KiB to whole MB, truncating.
func KBToMB(kb uint64) uint64 {
	return kb / 1024
}

// GBToMB converts GiB to MB.
func GBToMB(gb float64) uint64 {
	if gb <= 0 || math.IsNaN(gb) {
		return 0
	}
	return uint64(gb * 1024)
}

// MilliCelsiusToCelsius converts the hwmon temperature unit.
func MilliCelsiusToCelsius(mc int64) float64 {
	if mc <= 0 {
		return 0
	}
	return float64(mc) / 1000
}

// MicrowattsToWatts converts the hwmon power unit.
func MicrowattsToWatts(uw uint64) float64 {
	return float64(uw) / 1e6
}

// MilliwattsToWatts converts the NVML power unit.
func MilliwattsToWatts(mw uint64) float64 {
	return float64(mw) / 1000
}

// HzToMHz converts Hz to whole MHz, truncating.
func HzToMHz(hz uint64) uint32 {
	return saturate32(hz / 1_000_000)
}

// PWMToPercent converts a 0-255 PWM duty value to percent.
func PWMToPercent(pwm uint64) float64 {
	if pwm >= 255 {
		return 100
	}
	return float64(pwm) / 255 * 100
}

// RPMToPercent scales a fan tachometer reading against its maximum.
// It returns 0 when the maximum is unknown.
func RPMToPercent(rpm, maxRPM uint64) float64 {
	if maxRPM == 0 {
		return 0
	}
	return ClampPercent(float64(rpm) / float64(maxRPM) * 100)
}

// Ratio returns part/whole as a percent, 0 when whole is 0.
func Ratio(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return ClampPercent(float64(part) / float64(whole) * 100)
}

// ClampPercent limits v to [0,100]. NaN becomes 0.
func ClampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func saturate32(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
