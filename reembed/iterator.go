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


package reembed

import (
	"context"

	"github.com/poiesic/feedsync/core"
)

const (
	// DefaultBatchSize is the default number of articles to fetch in each batch
	DefaultBatchSize = 100
)

// ArticleLister pages through articles in id order.
type ArticleLister interface {
	ListArticles(ctx context.Context, afterID core.ID, limit int) ([]*core.Article, error)
}

// ArticleIterator iterates over stored articles in batches.
type ArticleIterator struct {
	articles  ArticleLister
	batchSize int
}

// NewArticleIterator creates a new article iterator.
// batchSize: number of articles to fetch in each batch (defaults when <= 0)
func NewArticleIterator(articles ArticleLister, batchSize int) *ArticleIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &ArticleIterator{
		articles:  articles,
		batchSize: batchSize,
	}
}

// ForEach calls fn for each batch of articles with an id greater than afterID.
// Iteration stops on the first error from fn or when the store is exhausted.
// Context cancellation is checked between batches.
func (it *ArticleIterator) ForEach(ctx context.Context, afterID core.ID, fn func([]*core.Article) error) error {
	cursor := afterID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := it.articles.ListArticles(ctx, cursor, it.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}

		cursor = batch[len(batch)-1].Id
		if len(batch) < it.batchSize {
			return nil
		}
	}
}

// Count returns the number of articles with an id greater than afterID.
func (it *ArticleIterator) Count(ctx context.Context, afterID core.ID) (int, error) {
	total := 0
	err := it.ForEach(ctx, afterID, func(batch []*core.Article) error {
		total += len(batch)
		return nil
	})
	return total, err
}
