package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/eggpi/similarity/internal/cache"
)

// renderDetail shows the selected article's link under the list.
func renderDetail(article *cache.Article, width int) string {
	if article == nil {
		return ""
	}
	contentWidth := max(width-2, 10)

	link := detailLinkStyle.Width(contentWidth).Render(truncateStr(article.URL, contentWidth))
	meta := fmt.Sprintf("similarity %.2f", article.Similarity)
	if article.PageID != 0 {
		meta += fmt.Sprintf(" · page %d", article.PageID)
	}
	return lipgloss.JoinVertical(lipgloss.Left, link, detailBodyStyle.Render(meta))
}

func wrapText(s string, width int) string {
	if width <= 0 {
		return s
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}

	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > width {
			lines = append(lines, line)
			line = w
		} else {
			line += " " + w
		}
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}
