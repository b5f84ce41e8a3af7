package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	barFull  = "█"
	barTrack = "░"
)

// barEighths are the partial cells for 1/8 to 7/8 of a cell.
var barEighths = []string{"", "▏", "▎", "▍", "▌", "▋", "▊", "▉"}

// UsageBar draws percent, clamped to 0-100, as width cells with eighth-cell
// resolution, followed by the value: █████▌░░░░  55%
// The filled part takes the threshold color of percent.
func UsageBar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	percent = math.Max(0, math.Min(100, percent))

	eighths := int(math.Round(percent / 100 * float64(width*8)))
	full, part := eighths/8, eighths%8
	fill := strings.Repeat(barFull, full) + barEighths[part]
	used := full
	if part > 0 {
		used++
	}

	return lipgloss.NewStyle().Foreground(thresholdColor(percent)).Render(fill) +
		MutedStyle().Render(strings.Repeat(barTrack, width-used)) +
		fmt.Sprintf(" %3.0f%%", percent)
}
