package tui

import "github.com/eggpi/similarity/internal/cache"

type suggestionsLoadedMsg struct {
	articles []cache.Article
}

type suggestionsErrMsg struct {
	err error
}

type openErrMsg struct {
	err error
}
