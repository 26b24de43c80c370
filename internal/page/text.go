package page

import (
	"fmt"
	"strings"

	"github.com/go-shiori/go-readability"
)

// Text is the readable content of a page, roughly what the similarity
// service indexes.
type Text struct {
	Title       string
	SiteName    string
	Description string
	Body        string
}

func ExtractText(markup, pageURL string) (Text, error) {
	u, err := checkURL(pageURL)
	if err != nil {
		return Text{}, err
	}
	article, err := readability.FromReader(strings.NewReader(markup), u)
	if err != nil {
		return Text{}, fmt.Errorf("parse content: %w", err)
	}
	return Text{
		Title:       collapseSpaces(article.Title),
		SiteName:    article.SiteName,
		Description: collapseSpaces(article.Excerpt),
		Body:        collapseSpaces(article.TextContent),
	}, nil
}
