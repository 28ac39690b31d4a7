package badger

import (
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
)

// QueueRepository implements storage.EmbeddingQueueRepository for BadgerDB.
type QueueRepository struct {
	backend *Backend
}

var _ storage.EmbeddingQueueRepository = (*QueueRepository)(nil)

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(backend *Backend) *QueueRepository {
	return &QueueRepository{backend: backend}
}

// AddToEmbeddingQueue enqueues articles. Already-queued articles are left alone.
func (r *QueueRepository) AddToEmbeddingQueue(ctx context.Context, tenant core.TenantID, articleIDs []core.ID, priority, maxAttempts int) error {
	now := time.Now().UTC()
	return r.backend.Update(func(tx *badger.Txn) error {
		for _, id := range articleIDs {
			key := makeQueueKey(id)
			existing, err := getValue[core.EmbeddingQueueEntry](tx, key)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			entry := &core.EmbeddingQueueEntry{
				ArticleId:   id,
				Tenant:      tenant,
				Priority:    priority,
				MaxAttempts: maxAttempts,
				Status:      core.QueuePending,
				InsertedAt:  now,
				UpdatedAt:   now,
			}
			if err := setValue(tx, key, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// NextEmbeddingBatch returns up to limit pending entries ordered by priority then age.
func (r *QueueRepository) NextEmbeddingBatch(ctx context.Context, limit int) ([]*core.EmbeddingQueueEntry, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	var pending []*core.EmbeddingQueueEntry
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(queuePrefix), func(_, val []byte) error {
			entry, err := storage.Unmarshal[core.EmbeddingQueueEntry](val)
			if err != nil {
				return err
			}
			if entry.Status == core.QueuePending {
				pending = append(pending, entry)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(pending, func(a, b *core.EmbeddingQueueEntry) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return a.InsertedAt.Compare(b.InsertedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// ClaimQueueEntries marks pending entries as processing within one transaction.
func (r *QueueRepository) ClaimQueueEntries(ctx context.Context, articleIDs ...core.ID) ([]*core.EmbeddingQueueEntry, error) {
	var claimed []*core.EmbeddingQueueEntry
	err := r.backend.Update(func(tx *badger.Txn) error {
		claimed = claimed[:0]
		now := time.Now().UTC()
		for _, id := range articleIDs {
			key := makeQueueKey(id)
			entry, err := getValue[core.EmbeddingQueueEntry](tx, key)
			if err != nil {
				return err
			}
			if entry == nil || entry.Status != core.QueuePending {
				continue
			}
			entry.Status = core.QueueProcessing
			entry.UpdatedAt = now
			if err := setValue(tx, key, entry); err != nil {
				return err
			}
			claimed = append(claimed, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReclaimProcessing resets stale processing entries to pending.
func (r *QueueRepository) ReclaimProcessing(ctx context.Context, cutoff time.Time) (int, error) {
	var reclaimed int
	err := r.backend.Update(func(tx *badger.Txn) error {
		reclaimed = 0
		var stale []*core.EmbeddingQueueEntry
		err := scanPrefix(tx, []byte(queuePrefix), func(_, val []byte) error {
			entry, err := storage.Unmarshal[core.EmbeddingQueueEntry](val)
			if err != nil {
				return err
			}
			if entry.Status == core.QueueProcessing && entry.UpdatedAt.Before(cutoff) {
				stale = append(stale, entry)
			}
			return nil
		})
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, entry := range stale {
			entry.Status = core.QueuePending
			entry.UpdatedAt = now
			if err := setValue(tx, makeQueueKey(entry.ArticleId), entry); err != nil {
				return err
			}
			reclaimed++
		}
		return nil
	})
	return reclaimed, err
}

// UpdateQueueEntries replaces existing queue entries.
func (r *QueueRepository) UpdateQueueEntries(ctx context.Context, entries ...*core.EmbeddingQueueEntry) error {
	now := time.Now().UTC()
	return r.backend.Update(func(tx *badger.Txn) error {
		for _, entry := range entries {
			key := makeQueueKey(entry.ArticleId)
			old, err := getValue[core.EmbeddingQueueEntry](tx, key)
			if err != nil {
				return err
			}
			if old == nil {
				return storage.ErrNotFound
			}
			entry.InsertedAt = old.InsertedAt
			entry.UpdatedAt = now
			if err := setValue(tx, key, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveFromQueue deletes entries by article ID.
func (r *QueueRepository) RemoveFromQueue(ctx context.Context, articleIDs ...core.ID) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		for _, id := range articleIDs {
			if err := tx.Delete(makeQueueKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountQueue returns the number of entries per status.
func (r *QueueRepository) CountQueue(ctx context.Context) (map[core.QueueStatus]int, error) {
	counts := make(map[core.QueueStatus]int)
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(queuePrefix), func(_, val []byte) error {
			entry, err := storage.Unmarshal[core.EmbeddingQueueEntry](val)
			if err != nil {
				return err
			}
			counts[entry.Status]++
			return nil
		})
	})
	return counts, err
}
