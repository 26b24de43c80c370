package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

func renderStatusBar(articleCount int, width int, loading bool) string {
	left := fmt.Sprintf(" %d suggestions", articleCount)
	if loading {
		left = " looking up..."
	}
	right := " enter open  s scores  r reload  q quit "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	bar := left + fmt.Sprintf("%*s", gap, "") + right
	return statusBarStyle.Width(width).Render(bar)
}
