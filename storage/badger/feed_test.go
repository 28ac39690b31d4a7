package badger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newFeed(tenant core.TenantID, url string, next *time.Time) *core.Feed {
	return &core.Feed{
		Tenant:            tenant,
		URL:               url,
		Status:            core.FeedStatusActive,
		Priority:          core.PriorityMedium,
		SyncIntervalHours: 24,
		NextSyncAt:        next,
	}
}

func TestFeedRepository_AddAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Feeds.AddFeeds(ctx, newFeed("t1", "https://example.com/feed", nil))
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.NotZero(t, added[0].Id)
	assert.False(t, added[0].InsertedAt.IsZero())

	got, err := store.Feeds.GetFeed(ctx, added[0].Id)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/feed", got.URL)

	byURL, err := store.Feeds.GetFeedByURL(ctx, "t1", "HTTPS://Example.com/feed/")
	require.NoError(t, err)
	assert.Equal(t, added[0].Id, byURL.Id)

	_, err = store.Feeds.GetFeedByURL(ctx, "t2", "https://example.com/feed")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Feeds.GetFeed(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFeedRepository_DuplicateURLPerTenant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Feeds.AddFeeds(ctx, newFeed("t1", "https://example.com/feed", nil))
	require.NoError(t, err)

	_, err = store.Feeds.AddFeeds(ctx, newFeed("t1", "https://example.com/feed#top", nil))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Another tenant may subscribe to the same URL
	_, err = store.Feeds.AddFeeds(ctx, newFeed("t2", "https://example.com/feed", nil))
	assert.NoError(t, err)
}

func TestFeedRepository_GetFeedsDueForSync(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	older := now.Add(-2 * time.Hour)
	future := now.Add(time.Hour)

	paused := newFeed("t1", "https://paused.example.com/rss", &older)
	paused.Status = core.FeedStatusPaused

	_, err := store.Feeds.AddFeeds(ctx,
		newFeed("t1", "https://a.example.com/rss", &past),
		newFeed("t1", "https://b.example.com/rss", &future),
		newFeed("t1", "https://c.example.com/rss", nil),
		newFeed("t1", "https://d.example.com/rss", &older),
		paused,
	)
	require.NoError(t, err)

	due, err := store.Feeds.GetFeedsDueForSync(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, "https://c.example.com/rss", due[0].URL)
	assert.Equal(t, "https://d.example.com/rss", due[1].URL)
	assert.Equal(t, "https://a.example.com/rss", due[2].URL)

	limited, err := store.Feeds.GetFeedsDueForSync(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = store.Feeds.GetFeedsDueForSync(ctx, now, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestFeedRepository_GetTierFeedsDueForSync(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var feeds []*core.Feed
	for i := range 10 {
		feeds = append(feeds, newFeed("t1", fmt.Sprintf("https://medium%d.example.com/rss", i), nil))
	}
	past := now.Add(-time.Minute)
	high := newFeed("t1", "https://high.example.com/rss", &past)
	high.Priority = core.PriorityHigh
	feeds = append(feeds, high)
	_, err := store.Feeds.AddFeeds(ctx, feeds...)
	require.NoError(t, err)

	due, err := store.Feeds.GetTierFeedsDueForSync(ctx, now, core.PriorityHigh, 2)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "https://high.example.com/rss", due[0].URL)

	due, err = store.Feeds.GetTierFeedsDueForSync(ctx, now, core.PriorityMedium, 3)
	require.NoError(t, err)
	assert.Len(t, due, 3)

	due, err = store.Feeds.GetTierFeedsDueForSync(ctx, now, core.PriorityLow, 3)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestFeedRepository_UpdateFeedSchedule(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	added, err := store.Feeds.AddFeeds(ctx, newFeed("t1", "https://a.example.com/rss", nil))
	require.NoError(t, err)
	id := added[0].Id

	next := now.Add(24 * time.Hour)
	etag := `"abc"`
	updated, err := store.Feeds.UpdateFeedSchedule(ctx, id, storage.FeedScheduleUpdate{
		NextSyncAt:    &next,
		LastFetchedAt: &now,
		ETag:          &etag,
	})
	require.NoError(t, err)
	assert.Equal(t, etag, updated.ETag)
	assert.True(t, updated.NextSyncAt.Equal(next))
	assert.Equal(t, core.PriorityMedium, updated.Priority)

	// The feed moved out of the due window
	due, err := store.Feeds.GetFeedsDueForSync(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = store.Feeds.GetFeedsDueForSync(ctx, next, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	_, err = store.Feeds.UpdateFeedSchedule(ctx, 9999, storage.FeedScheduleUpdate{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFeedRepository_ListAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.Feeds.AddFeeds(ctx,
		newFeed("t1", "https://a.example.com/rss", nil),
		newFeed("t2", "https://b.example.com/rss", nil),
	)
	require.NoError(t, err)

	all, err := store.Feeds.ListFeeds(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := store.Feeds.ListFeedsByTenant(ctx, "t2")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "https://b.example.com/rss", mine[0].URL)

	require.NoError(t, store.Feeds.DeleteFeeds(ctx, added[0].Id))
	_, err = store.Feeds.GetFeedByURL(ctx, "t1", "https://a.example.com/rss")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	due, err := store.Feeds.GetFeedsDueForSync(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
