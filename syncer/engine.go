// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/ratelimit"
	"github.com/poiesic/feedsync/storage"
)

// DefaultUserAgent identifies the fetcher to feed servers.
const DefaultUserAgent = "feedsync/1.0 (+https://github.com/poiesic/feedsync)"

const acceptHeader = "application/rss+xml, application/atom+xml, application/feed+json, " +
	"application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"

// ArticleStore is the storage the engine needs for deduplication.
type ArticleStore interface {
	GetArticleByGUID(ctx context.Context, feedID core.ID, guid string) (*core.Article, error)
	AddArticles(ctx context.Context, articles ...*core.Article) ([]*core.Article, error)
	UpdateArticles(ctx context.Context, articles ...*core.Article) ([]*core.Article, error)
}

// Engine syncs feeds into an ArticleStore.
type Engine struct {
	articles  ArticleStore
	client    *http.Client
	userAgent string
	validator *Validator
	detector  LanguageDetector
	extractor ContentExtractor
	clock     func() time.Time
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithHTTPClient sets the client used for every request.
// Default is a client with no global timeout; per-call timeouts come from Options.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Engine) error {
		if client == nil {
			return errors.New("http client must not be nil")
		}
		e.client = client
		return nil
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) Option {
	return func(e *Engine) error {
		if ua != "" {
			e.userAgent = ua
		}
		return nil
	}
}

// WithLanguageDetector enables language tagging when Options.DetectLanguage is set.
func WithLanguageDetector(d LanguageDetector) Option {
	return func(e *Engine) error {
		e.detector = d
		return nil
	}
}

// WithContentExtractor enables full-content extraction when
// Options.ExtractFullContent is set.
func WithContentExtractor(x ContentExtractor) Option {
	return func(e *Engine) error {
		e.extractor = x
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) error {
		e.clock = clock
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger.With("component", "syncer")
		return nil
	}
}

// NewEngine creates a sync engine.
func NewEngine(articles ArticleStore, opts ...Option) (*Engine, error) {
	if articles == nil {
		return nil, ErrArticleStoreRequired
	}
	e := &Engine{
		articles:  articles,
		client:    &http.Client{},
		userAgent: DefaultUserAgent,
		clock:     time.Now,
		logger:    slog.Default().With("component", "syncer"),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.validator = NewValidator(e.client, e.userAgent)
	return e, nil
}

// Validator returns the engine's validator.
func (e *Engine) Validator() *Validator {
	return e.validator
}

type fetched struct {
	status       int
	notModified  bool
	body         []byte
	contentType  string
	etag         string
	lastModified string
}

// SyncFeed fetches, validates, parses and stores one feed. It never
// returns nil; failures are reported in the Result.
//
// Feeds without an ID, such as catalog entries, are fetched and validated
// but nothing is stored.
func (e *Engine) SyncFeed(ctx context.Context, feed SyncableFeed, opts Options) *Result {
	opts = opts.withDefaults()
	start := e.clock()
	res := &Result{FeedID: feed.ID, URL: feed.URL, ValidationPassed: true}
	defer func() {
		res.SyncDuration = e.clock().Sub(start)
	}()

	logger := e.logger.With("feed_id", feed.ID, "url", feed.URL)

	if err := core.ValidateURL(feed.URL); err != nil {
		res.ValidationPassed = false
		return res.fail(validationError(err))
	}

	validate := opts.ValidateContent || feed.Priority == core.PriorityHigh
	if validate {
		probeCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		err := e.validator.Probe(probeCtx, feed.URL)
		cancel()
		if err != nil {
			res.ValidationPassed = false
			logger.Info("pre-flight probe failed", "err", err)
			return res.fail(validationError(err))
		}
	}

	var (
		parsed *gofeed.Feed
		resp   *fetched
	)
	attempts, err := ratelimit.RetryWithBackoff(ctx, func(attempt int) error {
		f, err := e.fetch(ctx, feed, opts)
		if f != nil {
			res.HTTPStatusCode = f.status
		}
		if err != nil {
			return classifyFetchError(err)
		}
		resp = f
		if f.notModified {
			return nil
		}

		if validate {
			report := e.validator.CheckContent(f.body, f.contentType)
			if !report.Valid {
				return ratelimit.Permanent(validationError(report.Err))
			}
			res.FeedType = report.FeedType
		}

		p, err := gofeed.NewParser().Parse(bytes.NewReader(f.body))
		if err != nil {
			return fmt.Errorf("parse feed: %w", err)
		}
		if validate {
			if err := checkParsed(p); err != nil {
				return ratelimit.Permanent(validationError(err))
			}
		}
		parsed = p
		return nil
	}, opts.MaxRetries, opts.RetryDelay)

	res.RetryCount = max(attempts-1, 0)
	res.FetchedAt = e.clock().UTC()
	if err != nil {
		if errors.Is(err, ErrValidationFailed) {
			res.ValidationPassed = false
		}
		return res.fail(err)
	}

	res.ETag, res.LastModified = resp.etag, resp.lastModified
	if resp.notModified {
		if res.ETag == "" {
			res.ETag = feed.ETag
		}
		if res.LastModified == "" {
			res.LastModified = feed.LastModified
		}
		res.NotModified = true
		res.Success = true
		logger.Debug("feed not modified")
		return res
	}

	res.FeedSizeBytes = len(resp.body)
	res.FeedTitle = parsed.Title
	if res.FeedType == "" {
		res.FeedType = parsed.FeedType
	}

	items := parsed.Items
	if len(items) > opts.MaxArticles {
		items = items[:opts.MaxArticles]
	}
	res.ArticlesFound = len(items)

	for _, item := range items {
		if ctx.Err() != nil {
			res.ArticlesSkipped++
			continue
		}
		e.storeItem(ctx, feed, item, opts, res, logger)
	}

	res.Success = true
	logger.Info("feed synced",
		"found", res.ArticlesFound,
		"new", res.ArticlesNew,
		"updated", res.ArticlesUpdated,
		"skipped", res.ArticlesSkipped,
		"attempts", attempts)
	return res
}

func (e *Engine) fetch(ctx context.Context, feed SyncableFeed, opts Options) (*fetched, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, ratelimit.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", acceptHeader)
	if opts.RespectCaching {
		if feed.ETag != "" {
			req.Header.Set("If-None-Match", feed.ETag)
		}
		if feed.LastModified != "" {
			req.Header.Set("If-Modified-Since", feed.LastModified)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feed.URL, err)
	}
	defer resp.Body.Close()

	f := &fetched{
		status:       resp.StatusCode,
		contentType:  resp.Header.Get("Content-Type"),
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
	if resp.StatusCode == http.StatusNotModified {
		f.notModified = true
		return f, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return f, &HTTPStatusError{Code: resp.StatusCode, URL: feed.URL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxFeedSize+1))
	if err != nil {
		return f, fmt.Errorf("read %s: %w", feed.URL, err)
	}
	if len(body) > MaxFeedSize {
		return f, ratelimit.Permanent(validationError(fmt.Errorf("%w: over %d bytes", ErrFeedTooLarge, MaxFeedSize)))
	}
	f.body = body
	return f, nil
}

// classifyFetchError marks client errors other than 429 as permanent.
func classifyFetchError(err error) error {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && !statusErr.Temporary() {
		return ratelimit.Permanent(err)
	}
	return err
}

// unsubscribedFeedID stands in for the missing id of catalog feeds.
const unsubscribedFeedID core.ID = 1<<64 - 1

// storeItem extracts one item and inserts, updates or skips it. Errors
// are counted as skipped and never abort the sync.
func (e *Engine) storeItem(ctx context.Context, feed SyncableFeed, item *gofeed.Item, opts Options, res *Result, logger *slog.Logger) {
	if feed.ID == 0 {
		// Unsubscribed feeds are only validated, against a stand-in feed id.
		if _, err := extractArticle(unsubscribedFeedID, item); err != nil {
			res.ArticlesSkipped++
		}
		return
	}
	candidate, err := extractArticle(feed.ID, item)
	if err != nil {
		logger.Debug("skipping malformed item", "title", item.Title, "err", err)
		res.ArticlesSkipped++
		return
	}

	existing, err := e.articles.GetArticleByGUID(ctx, feed.ID, candidate.GUID)
	if err == nil && opts.ExtractFullContent && existing.Content == candidate.Content {
		// Keep the extracted excerpt while the feed content is unchanged.
		candidate.Excerpt = existing.Excerpt
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		e.enrich(ctx, candidate, opts, logger)
		added, err := e.articles.AddArticles(ctx, candidate)
		if err != nil {
			logger.Warn("failed to add article", "guid", candidate.GUID, "err", err)
			res.ArticlesSkipped++
			return
		}
		res.ArticlesNew++
		res.NewArticleIDs = append(res.NewArticleIDs, added[0].Id)
	case err != nil:
		logger.Warn("failed to look up article", "guid", candidate.GUID, "err", err)
		res.ArticlesSkipped++
	case articleChanged(existing, candidate):
		reembed := existing.Title != candidate.Title || existing.Excerpt != candidate.Excerpt
		existing.Title = candidate.Title
		existing.Content = candidate.Content
		existing.Excerpt = candidate.Excerpt
		existing.ImageURL = candidate.ImageURL
		if candidate.PublishedAt != nil {
			existing.PublishedAt = candidate.PublishedAt
		}
		if reembed {
			existing.Embedding = nil
			existing.EmbeddingStatus = core.EmbeddingPending
		}
		if _, err := e.articles.UpdateArticles(ctx, existing); err != nil {
			logger.Warn("failed to update article", "id", existing.Id, "err", err)
			res.ArticlesSkipped++
			return
		}
		res.ArticlesUpdated++
		if reembed {
			res.UpdatedArticleIDs = append(res.UpdatedArticleIDs, existing.Id)
		}
	default:
		res.ArticlesSkipped++
	}
}

// enrich adds language and full-content text to a new article.
func (e *Engine) enrich(ctx context.Context, article *core.Article, opts Options, logger *slog.Logger) {
	if opts.ExtractFullContent && e.extractor != nil && isThin(contentText(article.Content)) {
		pageCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		text, err := e.extractor.Extract(pageCtx, article.URL)
		cancel()
		if err != nil {
			logger.Debug("full-content extraction failed", "url", article.URL, "err", err)
		} else if len(text) > len(article.Excerpt) {
			article.Excerpt = excerpt(text, ExcerptLength)
		}
	}
	if opts.DetectLanguage && e.detector != nil {
		article.Language = e.detector.Detect(article.Title + ". " + article.Excerpt)
	}
}

func articleChanged(existing, candidate *core.Article) bool {
	return existing.Title != candidate.Title ||
		existing.Content != candidate.Content ||
		existing.Excerpt != candidate.Excerpt ||
		existing.ImageURL != candidate.ImageURL
}
