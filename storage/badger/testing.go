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


package badger

import "errors"

// Store bundles every BadgerDB repository over a single backend.
type Store struct {
	Backend     *Backend
	Feeds       *FeedRepository
	Articles    *ArticleRepository
	Queue       *QueueRepository
	DeadLetters *DeadLetterRepository
	Usage       *UsageRepository
	Clusters    *ClusterRepository
	Catalog     *CatalogRepository
	Checkpoints *CheckpointRepository
}

// NewStore creates all repositories over backend.
func NewStore(backend *Backend) (*Store, error) {
	feeds, err := NewFeedRepository(backend)
	if err != nil {
		return nil, err
	}
	articles, err := NewArticleRepository(backend)
	if err != nil {
		feeds.Close()
		return nil, err
	}
	clusters, err := NewClusterRepository(backend)
	if err != nil {
		articles.Close()
		feeds.Close()
		return nil, err
	}
	return &Store{
		Backend:     backend,
		Feeds:       feeds,
		Articles:    articles,
		Queue:       NewQueueRepository(backend),
		DeadLetters: NewDeadLetterRepository(backend),
		Usage:       NewUsageRepository(backend),
		Clusters:    clusters,
		Catalog:     NewCatalogRepository(backend),
		Checkpoints: NewCheckpointRepository(backend),
	}, nil
}

// Close releases the ID sequences and then the backend.
func (s *Store) Close() error {
	return errors.Join(
		s.Clusters.Close(),
		s.Articles.Close(),
		s.Feeds.Close(),
		s.Backend.Close(),
	)
}

// NewMemoryStore creates an in-memory store for testing.
// Caller must close the store when done.
func NewMemoryStore() (*Store, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	store, err := NewStore(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return store, nil
}
