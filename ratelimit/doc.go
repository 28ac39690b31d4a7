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


// Package ratelimit guards calls to metered AI providers.
//
// It enforces per-tenant daily quotas for each operation type, records
// usage and cost, retries transient failures with exponential backoff and
// routes work that exhausts its retries to a durable dead-letter queue.
// It also provides the request admission limiter the sync engine shares
// across a batch of feed fetches.
//
// # Components
//
//   - Tracker: quota checks (CanMakeRequest), usage recording and snapshots
//   - DailyCounters: the counter store behind Tracker; MemoryCounters for a
//     single process, any storage.UsageRepository for a shared store
//   - WithExponentialBackoff / RetryWithBackoff: retry wrappers
//   - BatchProcessor: per-item retry with dead-lettering
//   - DeadLetterQueueManager: inspection, removal and replay of failed work
//   - RequestLimiter: sliding one-minute window plus a burst cap
//
// # Usage
//
//	tracker, _ := ratelimit.NewTracker(ratelimit.NewMemoryCounters())
//	decision, _ := tracker.CanMakeRequest(ctx, tenant, core.OpEmbeddings)
//	if !decision.Allowed {
//	    return ratelimit.ErrBudgetExceeded
//	}
package ratelimit
