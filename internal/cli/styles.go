// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styles for gpuinfo command output.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")). // Cyan
			MarginBottom(1)

	// SectionStyle is used for section headers within a command
	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")) // White

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(16)

	// ValueStyle is used for regular values
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	// HeaderStyle is used for table column headers
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("245"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Orange

	// DimStyle is used for unknown values and hints
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// VendorStyles color the vendor column.
	VendorStyles = map[string]lipgloss.Style{
		"NVIDIA": lipgloss.NewStyle().Foreground(lipgloss.Color("76")),
		"AMD":    lipgloss.NewStyle().Foreground(lipgloss.Color("160")),
		"INTEL":  lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
	}
)

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal rule. Default width is 60.
func RenderSeparator(width ...int) string {
	w := 60
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("=", w))
}

// RenderLabel renders a field label at the standard width.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}

// RenderVendor renders a vendor name in its color.
func RenderVendor(vendor string) string {
	if style, ok := VendorStyles[vendor]; ok {
		return style.Render(vendor)
	}
	return vendor
}

// styled adapts a style to a single-string renderer.
func styled(style lipgloss.Style) func(string) string {
	return func(s string) string { return style.Render(s) }
}

// usageLevelStyle colors a percentage: green below 50, orange below 85,
// red above.
func usageLevelStyle(pct float64) lipgloss.Style {
	switch {
	case pct >= 85:
		return ErrorStyle
	case pct >= 50:
		return WarningStyle
	default:
		return SuccessStyle
	}
}

// tempLevelStyle colors a temperature in Celsius.
func tempLevelStyle(c float64) lipgloss.Style {
	switch {
	case c >= 85:
		return ErrorStyle
	case c >= 70:
		return WarningStyle
	default:
		return ValueStyle
	}
}
