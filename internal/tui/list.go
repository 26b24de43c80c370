package tui

import (
	"fmt"
	"strings"

	"github.com/eggpi/similarity/internal/cache"
)

func renderListItem(a cache.Article, index int, selected, showScore bool, width int) string {
	if width < 10 {
		width = 30
	}

	prefix := fmt.Sprintf("%2d. ", index+1)
	title := truncateStr(a.Title, width-len(prefix)-2)
	var line string
	if selected {
		line = itemSelectedStyle.Render("> ") + itemIndexStyle.Render(prefix) + itemSelectedStyle.Render(title)
	} else {
		line = "  " + itemIndexStyle.Render(prefix) + itemTitleStyle.Render(title)
	}
	if showScore {
		line += " " + itemScoreStyle.Render(fmt.Sprintf("%.2f", a.Similarity))
	}
	return line
}

func truncateStr(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func renderList(articles []cache.Article, cursor int, showScore bool, height, width int) string {
	if len(articles) == 0 {
		return lipglossCenter("No similar articles", width, height)
	}

	visible := height
	if visible < 1 {
		visible = 1
	}

	start := 0
	if cursor >= visible {
		start = cursor - visible + 1
	}
	end := start + visible
	if end > len(articles) {
		end = len(articles)
		start = max(0, end-visible)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		b.WriteString(renderListItem(articles[i], i, i == cursor, showScore, width))
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func lipglossCenter(s string, width, height int) string {
	pad := (width - len(s)) / 2
	if pad < 0 {
		pad = 0
	}
	return strings.Repeat("\n", height/3) + strings.Repeat(" ", pad) + s
}
