package syncer

import (
	"time"

	"github.com/poiesic/feedsync/core"
)

// SyncableFeed is the one shape the engine syncs. Persisted feeds and
// catalog entries are both adapted to it at the boundary.
type SyncableFeed struct {
	ID           core.ID // zero for catalog entries that are not subscribed
	Tenant       core.TenantID
	URL          string
	Title        string
	Priority     core.SyncPriority
	ETag         string
	LastModified string
	LastFetched  *time.Time
}

// FromFeed adapts a stored feed.
func FromFeed(f *core.Feed) SyncableFeed {
	return SyncableFeed{
		ID:           f.Id,
		Tenant:       f.Tenant,
		URL:          f.URL,
		Title:        f.Title,
		Priority:     f.Priority,
		ETag:         f.ETag,
		LastModified: f.LastModified,
		LastFetched:  f.LastFetchedAt,
	}
}

// FromCatalogEntry adapts a catalog entry. It has no caching tokens.
func FromCatalogEntry(e *core.CatalogEntry) SyncableFeed {
	priority := e.Priority
	if !priority.Valid() {
		priority = core.PriorityMedium
	}
	return SyncableFeed{
		URL:      e.URL,
		Title:    e.Title,
		Priority: priority,
	}
}

// HasCachingTokens reports whether a conditional GET is possible.
func (f SyncableFeed) HasCachingTokens() bool {
	return f.ETag != "" || f.LastModified != ""
}
