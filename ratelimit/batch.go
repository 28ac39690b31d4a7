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


package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/poiesic/feedsync/core"
)

// ItemFailure is an item that did not succeed.
type ItemFailure[T any] struct {
	Item         T
	Err          error
	Attempts     int
	DeadLetterID string // set when routed to the dead-letter queue
}

// BatchResult partitions a batch by outcome.
type BatchResult[T any] struct {
	Successful   []T
	Failed       []ItemFailure[T]
	DeadLettered []ItemFailure[T]
}

// BatchProcessor runs a function over items with per-item retry and
// routes items that exhaust their retries to a dead-letter queue.
type BatchProcessor[T any] struct {
	operation core.Operation
	provider  string
	dlq       *DeadLetterQueueManager
	backoff   BackoffConfig
	tenantOf  func(T) core.TenantID
	payloadOf func(T) ([]byte, error)
	logger    *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption[T any] func(*BatchProcessor[T])

// WithBackoff sets the per-item retry policy. Default is DefaultBackoff().
func WithBackoff[T any](cfg BackoffConfig) BatchOption[T] {
	return func(p *BatchProcessor[T]) {
		p.backoff = cfg
	}
}

// WithTenantFunc extracts the owning tenant of an item for dead letters.
func WithTenantFunc[T any](fn func(T) core.TenantID) BatchOption[T] {
	return func(p *BatchProcessor[T]) {
		p.tenantOf = fn
	}
}

// WithPayloadFunc encodes an item for the dead-letter payload.
// Default is JSON.
func WithPayloadFunc[T any](fn func(T) ([]byte, error)) BatchOption[T] {
	return func(p *BatchProcessor[T]) {
		p.payloadOf = fn
	}
}

// WithBatchLogger sets a custom logger.
func WithBatchLogger[T any](logger *slog.Logger) BatchOption[T] {
	return func(p *BatchProcessor[T]) {
		if logger != nil {
			p.logger = logger.With("component", "batch-processor")
		}
	}
}

// NewBatchProcessor creates a processor for op calls against provider.
// A nil dlq reports exhausted items in DeadLettered without persisting them.
func NewBatchProcessor[T any](op core.Operation, provider string, dlq *DeadLetterQueueManager, opts ...BatchOption[T]) *BatchProcessor[T] {
	p := &BatchProcessor[T]{
		operation: op,
		provider:  provider,
		dlq:       dlq,
		backoff:   DefaultBackoff(),
		payloadOf: func(item T) ([]byte, error) { return json.Marshal(item) },
		logger:    slog.Default().With("component", "batch-processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessBatch runs fn on each item in order. One item's failure never
// aborts the batch. Items that fail with a non-retryable error land in
// Failed; items that run out of retries land in DeadLettered.
func (p *BatchProcessor[T]) ProcessBatch(ctx context.Context, items []T, fn func(context.Context, T) error) *BatchResult[T] {
	result := &BatchResult[T]{}
	for _, item := range items {
		res := WithExponentialBackoff(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx, item)
		}, p.backoff)

		if res.Success {
			result.Successful = append(result.Successful, item)
			continue
		}

		failure := ItemFailure[T]{Item: item, Err: res.Err, Attempts: res.Attempts}
		if !res.Exhausted() || ctx.Err() != nil {
			result.Failed = append(result.Failed, failure)
			continue
		}

		failure.DeadLetterID = p.deadLetter(ctx, item, res)
		result.DeadLettered = append(result.DeadLettered, failure)
	}

	p.logger.Debug("batch processed",
		"operation", p.operation,
		"successful", len(result.Successful),
		"failed", len(result.Failed),
		"deadLettered", len(result.DeadLettered))
	return result
}

func (p *BatchProcessor[T]) deadLetter(ctx context.Context, item T, res BackoffResult[struct{}]) string {
	if p.dlq == nil {
		return ""
	}
	payload, err := p.payloadOf(item)
	if err != nil {
		p.logger.Error("failed to encode dead-letter payload", "err", err)
	}
	var tenant core.TenantID
	if p.tenantOf != nil {
		tenant = p.tenantOf(item)
	}
	id, err := p.dlq.AddToQueue(ctx, p.operation, p.provider, payload, res.Err, res.Attempts, tenant)
	if err != nil {
		p.logger.Error("failed to dead-letter item", "err", err)
		return ""
	}
	return id
}
