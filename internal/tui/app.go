// Package tui renders the suggestions popup for the active tab.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/eggpi/similarity/internal/browser"
	"github.com/eggpi/similarity/internal/cache"
)

// FetchFunc loads the suggestions for the active tab.
type FetchFunc func(ctx context.Context) ([]cache.Article, error)

type App struct {
	fetch   FetchFunc
	open    func(url string) error
	timeout time.Duration

	articles  []cache.Article
	cursor    int
	loading   bool
	showScore bool
	err       error

	width  int
	height int

	spinner spinner.Model
}

// RunOpts holds all parameters for launching the popup.
type RunOpts struct {
	Fetch   FetchFunc
	Timeout time.Duration
	// Open defaults to browser.Open.
	Open func(url string) error
}

func NewApp(opts RunOpts) *App {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = spinnerStyle

	open := opts.Open
	if open == nil {
		open = browser.Open
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &App{
		fetch:   opts.Fetch,
		open:    open,
		timeout: timeout,
		loading: true,
		spinner: sp,
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadCmd(), a.spinner.Tick)
}

func (a *App) loadCmd() tea.Cmd {
	fetch := a.fetch
	timeout := a.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		articles, err := fetch(ctx)
		if err != nil {
			return suggestionsErrMsg{err: err}
		}
		return suggestionsLoadedMsg{articles: articles}
	}
}

func (a *App) openCmd(url string) tea.Cmd {
	open := a.open
	return func() tea.Msg {
		if err := open(url); err != nil {
			return openErrMsg{err: err}
		}
		return nil
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case suggestionsLoadedMsg:
		a.loading = false
		a.err = nil
		a.articles = msg.articles
		if a.cursor >= len(a.articles) {
			a.cursor = max(0, len(a.articles)-1)
		}
		return a, nil

	case suggestionsErrMsg:
		a.loading = false
		a.err = msg.err
		return a, nil

	case openErrMsg:
		a.err = msg.err
		return a, nil

	case spinner.TickMsg:
		if a.loading {
			var cmd tea.Cmd
			a.spinner, cmd = a.spinner.Update(msg)
			return a, cmd
		}
		return a, nil
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		return a, tea.Quit
	case "j", "down":
		if a.cursor < len(a.articles)-1 {
			a.cursor++
		}
		return a, nil
	case "k", "up":
		if a.cursor > 0 {
			a.cursor--
		}
		return a, nil
	case "o", "enter":
		if a.cursor < len(a.articles) {
			return a, a.openCmd(a.articles[a.cursor].URL)
		}
		return a, nil
	case "s":
		a.showScore = !a.showScore
		return a, nil
	case "r":
		if !a.loading {
			a.loading = true
			a.err = nil
			return a, tea.Batch(a.loadCmd(), a.spinner.Tick)
		}
		return a, nil
	}
	return a, nil
}

func (a *App) View() string {
	if a.width == 0 {
		return lipgloss.NewStyle().Foreground(colorAccent).Render("  similar")
	}

	header := headerStyle.Render("Similar articles")
	contentHeight := max(a.height-7, 3)
	innerWidth := max(a.width-4, 10)

	var body string
	switch {
	case a.loading:
		body = lipglossCenter(a.spinner.View()+" looking up", innerWidth, contentHeight)
	case a.err != nil && len(a.articles) == 0:
		body = errorStyle.Render(wrapText(a.err.Error(), innerWidth))
	default:
		body = renderList(a.articles, a.cursor, a.showScore, contentHeight, innerWidth)
	}
	pane := listPaneStyle.Width(a.width - 2).Height(contentHeight).Render(body)

	var selected *cache.Article
	if !a.loading && a.cursor < len(a.articles) {
		selected = &a.articles[a.cursor]
	}
	detail := renderDetail(selected, a.width)

	status := renderStatusBar(len(a.articles), a.width, a.loading)
	if a.err != nil && len(a.articles) > 0 {
		status = errorStyle.Render(a.err.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, pane, detail, status)
}

// Run starts the popup.
func Run(opts RunOpts) error {
	p := tea.NewProgram(NewApp(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
