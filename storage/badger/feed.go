package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
)

// FeedRepository implements storage.FeedRepository for BadgerDB.
type FeedRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.FeedRepository = (*FeedRepository)(nil)

// NewFeedRepository creates a new FeedRepository.
func NewFeedRepository(backend *Backend) (*FeedRepository, error) {
	idSeq, err := backend.GetSequence(feedIDSeq)
	if err != nil {
		return nil, err
	}
	return &FeedRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *FeedRepository) Close() error {
	return r.idSeq.Release()
}

// AddFeeds adds one or more feeds to storage.
func (r *FeedRepository) AddFeeds(ctx context.Context, feeds ...*core.Feed) ([]*core.Feed, error) {
	err := r.backend.Update(func(tx *badger.Txn) error {
		for _, feed := range feeds {
			urlKey := makeFeedURLKey(feed.Tenant, feed.URL)
			existing, err := getIndexedID(tx, urlKey)
			if err != nil {
				return err
			}
			if existing != 0 {
				return fmt.Errorf("%w: tenant %q already subscribes to %s", storage.ErrDuplicateKey, feed.Tenant, feed.URL)
			}

			id, err := nextID(r.idSeq)
			if err != nil {
				return err
			}
			feed.Id = core.ID(id)
			feed.InsertedAt = time.Now().UTC()
			feed.UpdatedAt = feed.InsertedAt

			if err := setValue(tx, makeFeedKey(feed.Id), feed); err != nil {
				return err
			}
			if err := tx.Set(urlKey, storage.MarshalID(feed.Id)); err != nil {
				return err
			}
			if err := tx.Set(makeFeedNextSyncKey(feed.NextSyncAt, feed.Id), storage.MarshalID(feed.Id)); err != nil {
				return err
			}
		}
		return nil
	})
	return feeds, err
}

// UpdateFeeds replaces existing feeds and maintains indices.
func (r *FeedRepository) UpdateFeeds(ctx context.Context, feeds ...*core.Feed) ([]*core.Feed, error) {
	err := r.backend.Update(func(tx *badger.Txn) error {
		for _, feed := range feeds {
			if err := r.writeFeed(tx, feed); err != nil {
				return err
			}
		}
		return nil
	})
	return feeds, err
}

// writeFeed stores feed over its previous version, keeping indices in step.
func (r *FeedRepository) writeFeed(tx *badger.Txn, feed *core.Feed) error {
	key := makeFeedKey(feed.Id)
	old, err := getValue[core.Feed](tx, key)
	if err != nil {
		return err
	}
	if old == nil {
		return storage.ErrNotFound
	}

	feed.InsertedAt = old.InsertedAt
	feed.UpdatedAt = time.Now().UTC()
	if err := setValue(tx, key, feed); err != nil {
		return err
	}

	// Update due-time index if schedule changed
	if !timePtrEqual(old.NextSyncAt, feed.NextSyncAt) {
		if err := tx.Delete(makeFeedNextSyncKey(old.NextSyncAt, old.Id)); err != nil {
			return err
		}
		if err := tx.Set(makeFeedNextSyncKey(feed.NextSyncAt, feed.Id), storage.MarshalID(feed.Id)); err != nil {
			return err
		}
	}

	// Update url index if tenant or url changed
	oldURLKey := makeFeedURLKey(old.Tenant, old.URL)
	newURLKey := makeFeedURLKey(feed.Tenant, feed.URL)
	if string(oldURLKey) != string(newURLKey) {
		if err := tx.Delete(oldURLKey); err != nil {
			return err
		}
		if err := tx.Set(newURLKey, storage.MarshalID(feed.Id)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFeeds removes feeds by their IDs.
func (r *FeedRepository) DeleteFeeds(ctx context.Context, ids ...core.ID) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		for _, id := range ids {
			key := makeFeedKey(id)
			feed, err := getValue[core.Feed](tx, key)
			if err != nil {
				return err
			}
			if feed == nil {
				return storage.ErrNotFound
			}
			if err := tx.Delete(makeFeedURLKey(feed.Tenant, feed.URL)); err != nil {
				return err
			}
			if err := tx.Delete(makeFeedNextSyncKey(feed.NextSyncAt, feed.Id)); err != nil {
				return err
			}
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetFeed retrieves a single feed by ID.
func (r *FeedRepository) GetFeed(ctx context.Context, id core.ID) (*core.Feed, error) {
	var result *core.Feed
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		result, err = getValue[core.Feed](tx, makeFeedKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	})
	return result, err
}

// GetFeedByURL finds a tenant's subscription to a URL.
func (r *FeedRepository) GetFeedByURL(ctx context.Context, tenant core.TenantID, url string) (*core.Feed, error) {
	var result *core.Feed
	err := r.backend.View(func(tx *badger.Txn) error {
		id, err := getIndexedID(tx, makeFeedURLKey(tenant, url))
		if err != nil {
			return err
		}
		if id == 0 {
			return storage.ErrNotFound
		}
		result, err = getValue[core.Feed](tx, makeFeedKey(core.ID(id)))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	})
	return result, err
}

// ListFeeds returns every feed ordered by ID.
func (r *FeedRepository) ListFeeds(ctx context.Context) ([]*core.Feed, error) {
	return r.listFeeds(func(*core.Feed) bool { return true })
}

// ListFeedsByTenant returns a tenant's feeds ordered by ID.
func (r *FeedRepository) ListFeedsByTenant(ctx context.Context, tenant core.TenantID) ([]*core.Feed, error) {
	return r.listFeeds(func(f *core.Feed) bool { return f.Tenant == tenant })
}

func (r *FeedRepository) listFeeds(keep func(*core.Feed) bool) ([]*core.Feed, error) {
	var results []*core.Feed
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(feedPrefix), func(_, val []byte) error {
			feed, err := storage.Unmarshal[core.Feed](val)
			if err != nil {
				return err
			}
			if keep(feed) {
				results = append(results, feed)
			}
			return nil
		})
	})
	return results, err
}

// GetFeedsDueForSync walks the due-time index up to now.
func (r *FeedRepository) GetFeedsDueForSync(ctx context.Context, now time.Time, limit int) ([]*core.Feed, error) {
	return r.dueFeeds(now, limit, func(*core.Feed) bool { return true })
}

// GetTierFeedsDueForSync walks the due-time index up to now, keeping only
// feeds of the given priority.
func (r *FeedRepository) GetTierFeedsDueForSync(ctx context.Context, now time.Time, priority core.SyncPriority, limit int) ([]*core.Feed, error) {
	return r.dueFeeds(now, limit, func(f *core.Feed) bool { return f.Priority == priority })
}

func (r *FeedRepository) dueFeeds(now time.Time, limit int, keep func(*core.Feed) bool) ([]*core.Feed, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	cutoff := now.UnixMicro()

	var results []*core.Feed
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(feedNextSyncPrefix), func(key, val []byte) error {
			if nextSyncFromKey(key) > cutoff {
				return errStopScan
			}
			id, err := storage.UnmarshalID(val)
			if err != nil {
				return err
			}
			feed, err := getValue[core.Feed](tx, makeFeedKey(id))
			if err != nil {
				return err
			}
			if feed == nil || feed.Status != core.FeedStatusActive || !keep(feed) {
				return nil
			}
			results = append(results, feed)
			if len(results) >= limit {
				return errStopScan
			}
			return nil
		})
	})
	return results, err
}

// UpdateFeedSchedule applies the non-nil fields of update.
func (r *FeedRepository) UpdateFeedSchedule(ctx context.Context, id core.ID, update storage.FeedScheduleUpdate) (*core.Feed, error) {
	var result *core.Feed
	err := r.backend.Update(func(tx *badger.Txn) error {
		feed, err := getValue[core.Feed](tx, makeFeedKey(id))
		if err != nil {
			return err
		}
		if feed == nil {
			return storage.ErrNotFound
		}
		applyScheduleUpdate(feed, update)
		if err := r.writeFeed(tx, feed); err != nil {
			return err
		}
		result = feed
		return nil
	})
	return result, err
}

func applyScheduleUpdate(feed *core.Feed, u storage.FeedScheduleUpdate) {
	if u.Priority != nil {
		feed.Priority = *u.Priority
	}
	if u.SyncIntervalHours != nil {
		feed.SyncIntervalHours = *u.SyncIntervalHours
	}
	if u.NextSyncAt != nil {
		next := *u.NextSyncAt
		feed.NextSyncAt = &next
	}
	if u.LastFetchedAt != nil {
		fetched := *u.LastFetchedAt
		feed.LastFetchedAt = &fetched
	}
	if u.ETag != nil {
		feed.ETag = *u.ETag
	}
	if u.LastModified != nil {
		feed.LastModified = *u.LastModified
	}
	if u.Status != nil {
		feed.Status = *u.Status
	}
	if u.LastError != nil {
		feed.LastError = *u.LastError
	}
	if u.ConsecutiveFailures != nil {
		feed.ConsecutiveFailures = *u.ConsecutiveFailures
	}
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
