package suggest

import (
	"errors"
	"fmt"
)

// ErrNoURL means the tab cannot be evaluated at all, which is different from
// a tab that has no suggestions.
var ErrNoURL = errors.New("tab has no URL")

// ExtractionError wraps a failure to read the page content of a tab.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting content of %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RemoteLookupError wraps a failed call to the similarity service.
type RemoteLookupError struct {
	URL string
	Err error
}

func (e *RemoteLookupError) Error() string {
	return fmt.Sprintf("looking up similar articles for %s: %v", e.URL, e.Err)
}

func (e *RemoteLookupError) Unwrap() error { return e.Err }
