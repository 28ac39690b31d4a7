package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
)

// DeadLetterRepository implements storage.DeadLetterRepository for BadgerDB.
// Items are keyed by insertion time so listing returns them oldest first.
type DeadLetterRepository struct {
	backend *Backend
}

var _ storage.DeadLetterRepository = (*DeadLetterRepository)(nil)

// NewDeadLetterRepository creates a new DeadLetterRepository.
func NewDeadLetterRepository(backend *Backend) *DeadLetterRepository {
	return &DeadLetterRepository{backend: backend}
}

// AddDeadLetter stores an item.
func (r *DeadLetterRepository) AddDeadLetter(ctx context.Context, item *core.DeadLetterItem) error {
	if item.Id == "" {
		return storage.ErrInvalidQuery
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		idKey := makeDeadLetterIDKey(item.Id)
		if _, err := tx.Get(idKey); err == nil {
			return storage.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		key := makeDeadLetterKey(item.InsertedAt, item.Id)
		if err := setValue(tx, key, item); err != nil {
			return err
		}
		return tx.Set(idKey, key)
	})
}

// GetDeadLetters returns up to limit items, oldest first. A limit <= 0 returns all.
func (r *DeadLetterRepository) GetDeadLetters(ctx context.Context, limit int) ([]*core.DeadLetterItem, error) {
	var results []*core.DeadLetterItem
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(deadLetterPrefix), func(_, val []byte) error {
			item, err := storage.Unmarshal[core.DeadLetterItem](val)
			if err != nil {
				return err
			}
			results = append(results, item)
			if limit > 0 && len(results) >= limit {
				return errStopScan
			}
			return nil
		})
	})
	return results, err
}

// GetDeadLetter retrieves one item by id.
func (r *DeadLetterRepository) GetDeadLetter(ctx context.Context, id string) (*core.DeadLetterItem, error) {
	var result *core.DeadLetterItem
	err := r.backend.View(func(tx *badger.Txn) error {
		key, err := r.primaryKey(tx, id)
		if err != nil {
			return err
		}
		result, err = getValue[core.DeadLetterItem](tx, key)
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

// RemoveDeadLetter deletes one item by id.
func (r *DeadLetterRepository) RemoveDeadLetter(ctx context.Context, id string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		key, err := r.primaryKey(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Delete(makeDeadLetterIDKey(id))
	})
}

func (r *DeadLetterRepository) primaryKey(tx *badger.Txn, id string) ([]byte, error) {
	item, err := tx.Get(makeDeadLetterIDKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}
