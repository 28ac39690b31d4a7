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


// Package syncer fetches, validates and parses syndication feeds and
// stores their articles.
//
// A sync runs the following steps:
//
//  1. optional pre-flight probe (HEAD, falling back to GET)
//  2. conditional GET with If-None-Match / If-Modified-Since; 304 ends
//     the sync successfully with nothing to do
//  3. content checks: size bounds, HTML error pages, feed type detection
//  4. parse with gofeed and extract normalized articles
//  5. deduplicate by (feed, guid): insert, update changed, skip unchanged
//
// Transient failures (timeouts, 429, 5xx, parse failures) are retried with
// doubling delays. Client errors and validation failures are not.
//
// SyncFeeds drives many feeds in small concurrent batches behind a shared
// ratelimit.RequestLimiter and reports progress as Events on a channel.
package syncer
