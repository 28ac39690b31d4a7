package badger

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
)

// ArticleRepository implements storage.ArticleRepository for BadgerDB.
type ArticleRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.ArticleRepository = (*ArticleRepository)(nil)

// NewArticleRepository creates a new ArticleRepository.
func NewArticleRepository(backend *Backend) (*ArticleRepository, error) {
	idSeq, err := backend.GetSequence(articleIDSeq)
	if err != nil {
		return nil, err
	}
	return &ArticleRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *ArticleRepository) Close() error {
	return r.idSeq.Release()
}

// AddArticles adds one or more articles to storage.
func (r *ArticleRepository) AddArticles(ctx context.Context, articles ...*core.Article) ([]*core.Article, error) {
	err := r.backend.Update(func(tx *badger.Txn) error {
		for _, article := range articles {
			guidKey := makeArticleGUIDKey(article.FeedId, article.GUID)
			existing, err := getIndexedID(tx, guidKey)
			if err != nil {
				return err
			}
			if existing != 0 {
				return fmt.Errorf("%w: feed %d guid %q", storage.ErrDuplicateKey, article.FeedId, article.GUID)
			}

			id, err := nextID(r.idSeq)
			if err != nil {
				return err
			}
			article.Id = core.ID(id)
			article.InsertedAt = time.Now().UTC()
			article.UpdatedAt = article.InsertedAt
			if article.EmbeddingStatus == "" {
				article.EmbeddingStatus = core.EmbeddingPending
			}

			if err := setValue(tx, makeArticleKey(article.Id), article); err != nil {
				return err
			}
			idValue := storage.MarshalID(article.Id)
			if err := tx.Set(guidKey, idValue); err != nil {
				return err
			}
			if err := tx.Set(makeArticleFeedDateKey(article.FeedId, article.InsertedAt, article.Id), idValue); err != nil {
				return err
			}
			if err := tx.Set(makeArticleDateKey(article.InsertedAt, article.Id), idValue); err != nil {
				return err
			}
		}
		return nil
	})
	return articles, err
}

// UpdateArticles replaces existing articles.
// FeedId, GUID and InsertedAt are immutable, so indices stay valid.
func (r *ArticleRepository) UpdateArticles(ctx context.Context, articles ...*core.Article) ([]*core.Article, error) {
	err := r.backend.Update(func(tx *badger.Txn) error {
		for _, article := range articles {
			key := makeArticleKey(article.Id)
			old, err := getValue[core.Article](tx, key)
			if err != nil {
				return err
			}
			if old == nil {
				return storage.ErrNotFound
			}
			article.FeedId = old.FeedId
			article.GUID = old.GUID
			article.InsertedAt = old.InsertedAt
			article.UpdatedAt = time.Now().UTC()
			if err := setValue(tx, key, article); err != nil {
				return err
			}
		}
		return nil
	})
	return articles, err
}

// GetArticle retrieves a single article by ID.
func (r *ArticleRepository) GetArticle(ctx context.Context, id core.ID) (*core.Article, error) {
	var result *core.Article
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		result, err = getValue[core.Article](tx, makeArticleKey(id))
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

// GetArticles retrieves multiple articles by their IDs.
func (r *ArticleRepository) GetArticles(ctx context.Context, ids ...core.ID) ([]*core.Article, error) {
	results := make([]*core.Article, 0, len(ids))
	err := r.backend.View(func(tx *badger.Txn) error {
		for _, id := range ids {
			article, err := getValue[core.Article](tx, makeArticleKey(id))
			if err != nil {
				return err
			}
			if article != nil {
				results = append(results, article)
			}
		}
		return nil
	})
	return results, err
}

// GetArticleByGUID looks up an article by its feed-scoped GUID.
func (r *ArticleRepository) GetArticleByGUID(ctx context.Context, feedID core.ID, guid string) (*core.Article, error) {
	var result *core.Article
	err := r.backend.View(func(tx *badger.Txn) error {
		id, err := getIndexedID(tx, makeArticleGUIDKey(feedID, guid))
		if err != nil {
			return err
		}
		if id == 0 {
			return storage.ErrNotFound
		}
		result, err = getValue[core.Article](tx, makeArticleKey(core.ID(id)))
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

// GetNewArticleIDs returns IDs of a feed's articles inserted at or after since.
func (r *ArticleRepository) GetNewArticleIDs(ctx context.Context, feedID core.ID, since time.Time) ([]core.ID, error) {
	var ids []core.ID
	err := r.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makePartialArticleFeedKey(feedID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		seek := makeArticleFeedDateKey(feedID, since, 0)
		for iter.Seek(seek); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			id, err := storage.UnmarshalID(key[len(key)-8:])
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

// GetArticlesSince returns articles inserted at or after since, oldest first.
func (r *ArticleRepository) GetArticlesSince(ctx context.Context, since time.Time) ([]*core.Article, error) {
	var results []*core.Article
	err := r.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(articleDatePrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(makePartialArticleDateKey(since)); iter.Valid(); iter.Next() {
			var id core.ID
			err := iter.Item().Value(func(val []byte) error {
				var err error
				id, err = storage.UnmarshalID(val)
				return err
			})
			if err != nil {
				return err
			}
			article, err := getValue[core.Article](tx, makeArticleKey(id))
			if err != nil {
				return err
			}
			if article != nil {
				results = append(results, article)
			}
		}
		return nil
	})
	return results, err
}

// ListArticles returns up to limit articles with ID > afterID, ordered by ID.
func (r *ArticleRepository) ListArticles(ctx context.Context, afterID core.ID, limit int) ([]*core.Article, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	var results []*core.Article
	err := r.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(articlePrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		seek := makeArticleKey(afterID + 1)
		for iter.Seek(seek); iter.Valid() && len(results) < limit; iter.Next() {
			var article *core.Article
			err := iter.Item().Value(func(val []byte) error {
				var err error
				article, err = storage.Unmarshal[core.Article](val)
				return err
			})
			if err != nil {
				return err
			}
			results = append(results, article)
		}
		return nil
	})
	return results, err
}

// FindSimilar finds articles similar to the given vector, restricted to
// feedIDs when any are given.
func (r *ArticleRepository) FindSimilar(ctx context.Context, vector []float32, minSimilarity float64, limit int, feedIDs ...core.ID) ([]*core.ScoredArticle, error) {
	var results []*core.ScoredArticle
	var inFeeds map[core.ID]bool
	if len(feedIDs) > 0 {
		inFeeds = make(map[core.ID]bool, len(feedIDs))
		for _, id := range feedIDs {
			inFeeds[id] = true
		}
	}

	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, []byte(articlePrefix), func(_, val []byte) error {
			article, err := storage.Unmarshal[core.Article](val)
			if err != nil {
				return err
			}

			// Skip articles without embeddings or with another model's dimensions
			if len(article.Embedding) == 0 || len(article.Embedding) != len(vector) {
				return nil
			}
			if inFeeds != nil && !inFeeds[article.FeedId] {
				return nil
			}

			similarity := cosine(vector, article.Embedding)
			if similarity >= minSimilarity {
				results = append(results, &core.ScoredArticle{
					Article: article,
					Score:   similarity,
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending
	slices.SortFunc(results, func(a, b *core.ScoredArticle) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// cosine calculates the cosine similarity of two equal-length vectors.
func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
