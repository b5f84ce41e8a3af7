package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Semantic colors for status indication
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

// Utilization thresholds for color coding.
const (
	warnPercent = 60.0
	highPercent = 80.0
)

// SuccessStyle renders text in the success color.
func SuccessStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorSuccess)
}

// ErrorStyle renders text in the error color.
func ErrorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorError)
}

// MutedStyle renders secondary text.
func MutedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(ColorMuted)
}

// HeadingStyle renders section headings.
func HeadingStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(ColorInfo)
}

// DisableColors switches all rendering to plain text.
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// thresholdColor picks green, yellow or red for a 0-100 value.
func thresholdColor(percent float64) lipgloss.Color {
	switch {
	case percent >= highPercent:
		return ColorError
	case percent >= warnPercent:
		return ColorWarning
	default:
		return ColorSuccess
	}
}
