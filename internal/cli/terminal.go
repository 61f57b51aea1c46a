// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Terminal detection for gpuinfo output.
//
// Colors are used only when stdout is a terminal. NO_COLOR disables them,
// FORCE_COLOR enables them regardless of the TTY, and --no-color wins over
// both.

package cli

import (
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultTerminalWidth is used when stdout is not a terminal.
	DefaultTerminalWidth = 80

	// MinTerminalWidth is the narrowest table we lay out.
	MinTerminalWidth = 60
)

// stdoutFd returns the descriptor behind stdout, or false when output has
// been redirected to something other than a file.
func stdoutFd() (int, bool) {
	f, ok := stdout.(*os.File)
	if !ok {
		return 0, false
	}
	return int(f.Fd()), true
}

// IsStdoutTTY reports whether command output goes to a terminal.
func IsStdoutTTY() bool {
	fd, ok := stdoutFd()
	return ok && term.IsTerminal(fd)
}

// GetTerminalWidth returns the terminal width clamped to MinTerminalWidth,
// or DefaultTerminalWidth when there is no terminal.
func GetTerminalWidth() int {
	fd, ok := stdoutFd()
	if !ok {
		return DefaultTerminalWidth
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return DefaultTerminalWidth
	}
	return max(width, MinTerminalWidth)
}

// color holds the process-wide color decision. It is made lazily so tests
// can swap stdout first.
var color struct {
	sync.Mutex
	decided bool
	enabled bool
}

func detectColors() bool {
	switch {
	case os.Getenv("NO_COLOR") != "":
		return false
	case os.Getenv("FORCE_COLOR") != "":
		return true
	default:
		return IsStdoutTTY()
	}
}

// ColorsEnabled reports whether output is styled.
func ColorsEnabled() bool {
	color.Lock()
	defer color.Unlock()
	if !color.decided {
		color.enabled = detectColors()
		color.decided = true
	}
	return color.enabled
}

// ForceColorsEnabled overrides detection and updates the lipgloss profile.
func ForceColorsEnabled(enabled bool) {
	color.Lock()
	color.enabled, color.decided = enabled, true
	color.Unlock()
	lipgloss.SetColorProfile(GetColorProfile())
}

// DisableColors turns off styling for the rest of the process.
func DisableColors() {
	ForceColorsEnabled(false)
}

// GetColorProfile returns the termenv profile matching ColorsEnabled.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
