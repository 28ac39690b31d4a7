package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"

	"github.com/poiesic/feedsync/core"
	"github.com/poiesic/feedsync/storage"
	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk catalog format.
type seedFile struct {
	Catalog       []*core.CatalogEntry `yaml:"catalog"`
	Subscriptions []subscription       `yaml:"subscriptions"`
}

type subscription struct {
	Tenant core.TenantID `yaml:"tenant"`
	URLs   []string      `yaml:"urls"`
	// Priority overrides the catalog tier for every URL of this tenant.
	Priority core.SyncPriority `yaml:"priority"`
}

func loadSeedFile(filename string) (*seedFile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filename, err)
	}
	if err := seed.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &seed, nil
}

func (s *seedFile) validate() error {
	var errs []error
	for i, entry := range s.Catalog {
		if err := core.ValidateURL(entry.URL); err != nil {
			errs = append(errs, fmt.Errorf("catalog[%d]: %w", i, err))
		}
		if entry.Priority != "" {
			if err := core.ValidatePriority(entry.Priority); err != nil {
				errs = append(errs, fmt.Errorf("catalog[%d]: %w", i, err))
			}
		}
	}
	for i, sub := range s.Subscriptions {
		if sub.Tenant == "" {
			errs = append(errs, fmt.Errorf("subscriptions[%d]: %w", i, core.ErrEmptyTenant))
		}
	}
	return errors.Join(errs...)
}

// addCatalogBatched stores catalog entries from source in batches.
func addCatalogBatched(ctx context.Context, catalog storage.CatalogRepository, source iter.Seq[*core.CatalogEntry], batchSize int) (int, error) {
	total := 0
	for batch := range chunk(source, batchSize) {
		if err := catalog.AddCatalogEntries(ctx, batch...); err != nil {
			return total, err
		}
		total += len(batch)
	}
	return total, nil
}

// chunk groups an iterator into slices of at most size elements.
func chunk[T any](source iter.Seq[T], size int) iter.Seq[[]T] {
	return func(yield func([]T) bool) {
		batch := make([]T, 0, size)
		for v := range source {
			batch = append(batch, v)
			if len(batch) == size {
				if !yield(slices.Clone(batch)) {
					return
				}
				batch = batch[:0]
			}
		}
		if len(batch) > 0 {
			yield(batch)
		}
	}
}

// FeedAdder subscribes a tenant to a feed.
type FeedAdder interface {
	AddFeed(ctx context.Context, tenant core.TenantID, url string, override core.SyncPriority) (*core.Feed, error)
}

// subscribe adds every subscription. Existing subscriptions are skipped.
func subscribe(ctx context.Context, feeds FeedAdder, subs []subscription) (added, skipped int, err error) {
	for _, sub := range subs {
		for _, url := range sub.URLs {
			feed, err := feeds.AddFeed(ctx, sub.Tenant, url, sub.Priority)
			if errors.Is(err, storage.ErrDuplicateKey) {
				skipped++
				continue
			}
			if err != nil {
				return added, skipped, fmt.Errorf("subscribe %s to %s: %w", sub.Tenant, url, err)
			}
			slog.Debug("subscribed", "tenant", sub.Tenant, "feed_id", feed.Id, "priority", feed.Priority)
			added++
		}
	}
	return added, skipped, nil
}
