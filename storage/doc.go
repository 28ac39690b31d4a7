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


// Package storage provides the storage abstraction layer for feedsync.
//
// This package defines repository interfaces that decouple persistence from the
// scheduler, sync engine, enrichment pipeline and clustering engine. The
// pipeline treats storage as an injected collaborator, so alternative backends
// can be swapped in without touching call sites.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - FeedRepository: feeds and their schedule fields
//   - ArticleRepository: articles, GUID lookup and similarity scans
//   - EmbeddingQueueRepository: pending enrichment work
//   - DeadLetterRepository: permanently failed work
//   - UsageRepository: usage log and per-day aggregates
//   - ClusterRepository: topic clusters
//   - CatalogRepository: the recommended-feed catalog
//
// Two backends ship with the module: storage/badger implements every
// repository, storage/sqlite implements UsageRepository.
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	store, err := badger.NewMemoryStore()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
