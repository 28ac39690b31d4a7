package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// ValidationReport describes the content checks applied to a feed body.
type ValidationReport struct {
	Valid     bool
	FeedType  string
	SizeBytes int
	PageTitle string // title of an HTML page served in place of the feed
	Err       error
}

// Validator runs pre-flight probes and content-shape checks.
type Validator struct {
	client    *http.Client
	userAgent string
}

// NewValidator creates a validator that probes with client.
func NewValidator(client *http.Client, userAgent string) *Validator {
	if client == nil {
		client = http.DefaultClient
	}
	return &Validator{client: client, userAgent: userAgent}
}

// Probe checks that url answers. It sends HEAD and falls back to GET when
// the server rejects HEAD.
func (v *Validator) Probe(ctx context.Context, url string) error {
	code, err := v.probe(ctx, http.MethodHead, url)
	if err != nil {
		return err
	}
	if code == http.StatusMethodNotAllowed || code == http.StatusNotImplemented {
		code, err = v.probe(ctx, http.MethodGet, url)
		if err != nil {
			return err
		}
	}
	if code >= 400 {
		return &HTTPStatusError{Code: code, URL: url}
	}
	return nil
}

func (v *Validator) probe(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	if v.userAgent != "" {
		req.Header.Set("User-Agent", v.userAgent)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// CheckContent applies size bounds, rejects HTML pages and detects the feed type.
func (v *Validator) CheckContent(body []byte, contentType string) *ValidationReport {
	report := &ValidationReport{SizeBytes: len(body)}

	switch {
	case len(body) < MinFeedSize:
		report.Err = fmt.Errorf("%w: %d bytes", ErrFeedTooSmall, len(body))
		return report
	case len(body) > MaxFeedSize:
		report.Err = fmt.Errorf("%w: %d bytes", ErrFeedTooLarge, len(body))
		return report
	}

	feedType := gofeed.DetectFeedType(bytes.NewReader(body))
	if feedType == gofeed.FeedTypeUnknown {
		if looksLikeHTML(body, contentType) {
			report.PageTitle = htmlTitle(body)
			report.Err = fmt.Errorf("%w: %q", ErrHTMLErrorPage, report.PageTitle)
			return report
		}
		report.Err = ErrNotAFeed
		return report
	}

	report.FeedType = feedTypeName(feedType)
	report.Valid = true
	return report
}

// checkParsed verifies the fields every usable feed carries.
func checkParsed(feed *gofeed.Feed) error {
	if strings.TrimSpace(feed.Title) == "" && strings.TrimSpace(feed.Link) == "" && len(feed.Items) == 0 {
		return ErrMissingFields
	}
	return nil
}

func looksLikeHTML(body []byte, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := body[:min(len(body), 512)]
	head = bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func htmlTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func feedTypeName(t gofeed.FeedType) string {
	switch t {
	case gofeed.FeedTypeRSS:
		return "rss"
	case gofeed.FeedTypeAtom:
		return "atom"
	case gofeed.FeedTypeJSON:
		return "json"
	}
	return "unknown"
}

func validationError(err error) error {
	if errors.Is(err, ErrValidationFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, err)
}
