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


package core

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// MinTitleLength is the shortest usable article title, in runes.
const MinTitleLength = 3

// ValidateFeed validates a Feed according to domain rules.
//
// Validation rules:
//   - Tenant must not be empty
//   - URL must be an absolute http(s) URL
//   - Priority must be high, medium or low
//   - Status must be a known lifecycle state
//
// NOT validated (maintained by the scheduler and sync engine):
//   - schedule fields, caching tokens, timestamps
func ValidateFeed(feed *Feed) error {
	if feed == nil {
		return fmt.Errorf("%w: feed is nil", ErrInvalidFeed)
	}
	if feed.Tenant == "" {
		return fmt.Errorf("%w: %w", ErrInvalidFeed, ErrEmptyTenant)
	}
	if err := ValidateURL(feed.URL); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFeed, err)
	}
	if err := ValidatePriority(feed.Priority); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFeed, err)
	}
	if !feed.Status.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidFeed, ErrInvalidStatus, feed.Status)
	}
	return nil
}

// ValidateArticle validates an Article according to domain rules.
//
// Validation rules:
//   - FeedId must be set
//   - GUID must not be empty
//   - Title must be at least MinTitleLength runes after trimming
//   - URL must be an absolute http(s) URL
func ValidateArticle(article *Article) error {
	if article == nil {
		return fmt.Errorf("%w: article is nil", ErrInvalidArticle)
	}
	if article.FeedId == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidArticle, ErrMissingFeed)
	}
	if article.GUID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidArticle, ErrEmptyGUID)
	}
	if utf8.RuneCountInString(strings.TrimSpace(article.Title)) < MinTitleLength {
		return fmt.Errorf("%w: %w", ErrInvalidArticle, ErrTitleTooShort)
	}
	if err := ValidateURL(article.URL); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArticle, err)
	}
	return nil
}

// ValidatePriority fails with ErrInvalidPriority for anything but the three tiers.
func ValidatePriority(p SyncPriority) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, p)
	}
	return nil
}

// ValidateURL checks that raw is an absolute http or https URL with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFeedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidFeedURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidFeedURL)
	}
	return nil
}

// NormalizeURL returns the canonical form of a feed URL used for lookups:
// lower-case scheme and host, no fragment, no trailing slash.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
