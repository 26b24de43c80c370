package whitelist

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var (
	ErrEmpty     = errors.New("pattern is empty")
	ErrDuplicate = errors.New("this value is already whitelisted")
)

var defaultRules = []string{
	`abcnews\.go\.com/.+`,
	`arstechnica\.com/.+`,
	`bbc\.co\.uk/.+`,
	`bbc\.com/.+`,
	`business-standard\.com/.+`,
	`cnn\.com/.+`,
	`economist\.com/.+`,
	`forbes\.com/.+`,
	`guardian\.co\.uk/.+`,
	`hollywoodreporter\.com/.+`,
	`huffingtonpost\.com/.+`,
	`independent\.co\.uk/.+`,
	`irishtimes\.com/.+`,
	`newsweek\.com/.+`,
	`newyorker\.com/.+`,
	`npr\.org/.+`,
	`nytimes\.com/.+`,
	`politico\.com/.+`,
	`rollingstone\.com/.+`,
	`spiegel\.de/.+`,
	`theatlantic\.com/.+`,
	`theguardian\.com/.+`,
	`time\.com/.+`,
	`variety\.com/.+`,
	`washingtonpost\.com/.+`,
	`wired\.com/.+`,
	`wsj\.com/.+`,
}

// DefaultRules returns a copy of the built-in news domain patterns.
func DefaultRules() []string {
	return slices.Clone(defaultRules)
}

// Matches reports whether any rule matches any part of url. Rules are
// case-insensitive; rules that fail to compile are skipped.
func Matches(url string, rules []string) bool {
	for _, rule := range rules {
		re, err := compile(rule)
		if err != nil {
			continue
		}
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// Validate reports whether pattern can be used as a rule.
func Validate(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return ErrEmpty
	}
	if _, err := compile(pattern); err != nil {
		return fmt.Errorf("invalid regular expression: %w", err)
	}
	return nil
}

// Add returns rules plus pattern, sorted. The input slice is not modified.
func Add(rules []string, pattern string) ([]string, error) {
	if err := Validate(pattern); err != nil {
		return nil, err
	}
	if slices.Contains(rules, pattern) {
		return nil, ErrDuplicate
	}
	out := append(slices.Clone(rules), pattern)
	slices.Sort(out)
	return out, nil
}

// Remove returns rules without the entry at index i.
func Remove(rules []string, i int) ([]string, error) {
	if i < 0 || i >= len(rules) {
		return nil, fmt.Errorf("no rule at index %d", i)
	}
	return slices.Delete(slices.Clone(rules), i, i+1), nil
}

// ValidateAll returns the first invalid rule, if any.
func ValidateAll(rules []string) error {
	for i, rule := range rules {
		if err := Validate(rule); err != nil {
			return fmt.Errorf("rule %d (%q): %w", i, rule, err)
		}
	}
	return nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}
