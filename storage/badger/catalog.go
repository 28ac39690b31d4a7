package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
)

// CatalogRepository implements storage.CatalogRepository for BadgerDB.
type CatalogRepository struct {
	backend *Backend
}

var _ storage.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(backend *Backend) *CatalogRepository {
	return &CatalogRepository{backend: backend}
}

// AddCatalogEntries upserts entries keyed by normalized URL.
func (r *CatalogRepository) AddCatalogEntries(ctx context.Context, entries ...*core.CatalogEntry) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		for _, entry := range entries {
			if err := setValue(tx, makeCatalogKey(entry.URL), entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRecommendedFeedByURL looks up a catalog entry.
func (r *CatalogRepository) GetRecommendedFeedByURL(ctx context.Context, url string) (*core.CatalogEntry, error) {
	var result *core.CatalogEntry
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		result, err = getValue[core.CatalogEntry](tx, makeCatalogKey(url))
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

// ListCatalog returns all entries ordered by URL.
func (r *CatalogRepository) ListCatalog(ctx context.Context) ([]*core.CatalogEntry, error) {
	var results []*core.CatalogEntry
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(catalogPrefix), func(_, val []byte) error {
			entry, err := storage.Unmarshal[core.CatalogEntry](val)
			if err != nil {
				return err
			}
			results = append(results, entry)
			return nil
		})
	})
	return results, err
}
