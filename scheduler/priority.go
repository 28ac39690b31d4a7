package scheduler

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/poiesic/feedsync/core"
)

// PriorityIntervalHours returns the polling interval of a tier.
// Unknown priorities poll like medium.
func PriorityIntervalHours(p core.SyncPriority) int {
	switch p {
	case core.PriorityHigh:
		return 1
	case core.PriorityLow:
		return 168
	default:
		return 24
	}
}

// TierInterval returns the polling interval of a tier as a duration.
func TierInterval(p core.SyncPriority) time.Duration {
	return time.Duration(PriorityIntervalHours(p)) * time.Hour
}

// CalculateNextSyncAt returns when a feed synced at t is next due.
func CalculateNextSyncAt(p core.SyncPriority, t time.Time) time.Time {
	return t.Add(TierInterval(p))
}

// IsDue reports whether the feed should be synced at now.
func IsDue(feed *core.Feed, now time.Time) bool {
	return feed.NextSyncAt == nil || !feed.NextSyncAt.After(now)
}

// breakingNewsHosts are polled hourly unless the catalog says otherwise.
var breakingNewsHosts = []string{
	"apnews.com",
	"reuters.com",
	"bbc.co.uk",
	"bbc.com",
	"cnn.com",
	"aljazeera.com",
	"theguardian.com",
	"nytimes.com",
	"washingtonpost.com",
	"npr.org",
	"bloomberg.com",
	"news.ycombinator.com",
	"techcrunch.com",
	"theverge.com",
}

// IsBreakingNewsHost reports whether host or one of its parents is on the
// breaking-news allowlist.
func IsBreakingNewsHost(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, h := range breakingNewsHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// CatalogLookup resolves a URL to its catalog entry.
type CatalogLookup interface {
	GetRecommendedFeedByURL(ctx context.Context, url string) (*core.CatalogEntry, error)
}

// DetermineNewFeedPriority picks the tier of a newly added feed: the
// catalog's recommendation, else high for breaking-news hosts, else medium.
// Lookup failures fall through to the allowlist.
func DetermineNewFeedPriority(ctx context.Context, feedURL string, catalog CatalogLookup) core.SyncPriority {
	if catalog != nil {
		entry, err := catalog.GetRecommendedFeedByURL(ctx, core.NormalizeURL(feedURL))
		if err == nil && entry != nil && entry.Priority.Valid() {
			return entry.Priority
		}
	}
	if u, err := url.Parse(strings.TrimSpace(feedURL)); err == nil && IsBreakingNewsHost(u.Hostname()) {
		return core.PriorityHigh
	}
	return core.PriorityMedium
}
