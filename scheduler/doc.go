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


// Package scheduler decides when feeds are synced.
//
// Every feed belongs to a priority tier that fixes its polling interval:
// high every hour, medium every day, low every week. The Scheduler runs
// one ticker per tier; on each tick the tier's due feeds are handed to the
// sync engine in small batches on a fixed-size worker pool, and each feed's
// next sync time is recomputed from its tier. Tiers start staggered so they
// never fire together.
//
// Feeds that fail are kept in a failed-feed set, pushed out to twice their
// tier interval, and retried by a cron sweep. SyncObservers are told about
// every sync result; the ingestion pipeline is the main observer.
package scheduler
