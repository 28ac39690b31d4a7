package syncer

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidationFailed indicates the feed failed pre-flight or content checks.
	ErrValidationFailed = errors.New("feed validation failed")

	// ErrNotAFeed indicates the response is not RSS, Atom or JSON Feed.
	ErrNotAFeed = errors.New("content is not a feed")

	// ErrHTMLErrorPage indicates an HTML page was served instead of a feed.
	ErrHTMLErrorPage = errors.New("response is an html page")

	// ErrFeedTooSmall indicates a body below MinFeedSize.
	ErrFeedTooSmall = errors.New("feed body too small")

	// ErrFeedTooLarge indicates a body above MaxFeedSize.
	ErrFeedTooLarge = errors.New("feed body too large")

	// ErrMissingFields indicates a parsed feed lacks a title and link.
	ErrMissingFields = errors.New("feed is missing required fields")

	// ErrArticleStoreRequired is returned when an engine has no article store.
	ErrArticleStoreRequired = errors.New("article store required")
)

// HTTPStatusError is a non-2xx, non-304 response.
type HTTPStatusError struct {
	Code int
	URL  string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// StatusCode returns the HTTP status.
func (e *HTTPStatusError) StatusCode() int {
	return e.Code
}

// Temporary reports whether the status is worth retrying.
func (e *HTTPStatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}
