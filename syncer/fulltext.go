package syncer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
)

// thinContentRunes is the plain-text length below which full-content
// extraction is attempted.
const thinContentRunes = 500

// maxPageSize caps article pages read for extraction.
const maxPageSize = 5 << 20

// ContentExtractor fetches an article page and returns its readable text.
type ContentExtractor interface {
	Extract(ctx context.Context, pageURL string) (string, error)
}

type readabilityExtractor struct {
	client    *http.Client
	userAgent string
}

// NewContentExtractor returns a readability-based extractor.
func NewContentExtractor(client *http.Client, userAgent string) ContentExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &readabilityExtractor{client: client, userAgent: userAgent}
}

func (r *readabilityExtractor) Extract(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse article url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build article request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch article %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPStatusError{Code: resp.StatusCode, URL: pageURL}
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxPageSize), parsed)
	if err != nil {
		return "", fmt.Errorf("extract content from %s: %w", pageURL, err)
	}
	return collapseSpace(article.TextContent), nil
}

func isThin(text string) bool {
	return utf8.RuneCountInString(text) < thinContentRunes
}
